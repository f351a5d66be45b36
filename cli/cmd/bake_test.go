package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abbey/cloud"
	"abbey/model"
	"abbey/pipeline"
)

type countingLookup struct {
	network int
	blessed int
	err     error
}

func (l *countingLookup) LookupNetwork(_ context.Context, stack, play string) (cloud.Network, error) {
	l.network++
	return cloud.Network{SubnetID: "subnet-found", SecurityGroupID: "sg-found"}, l.err
}

func (l *countingLookup) BlessedImage(_ context.Context, env, dep, play string) (string, error) {
	l.blessed++
	return "ami-blessed", l.err
}

func testOptions() bakeOptions {
	return bakeOptions{
		play:              "edxapp",
		deployment:        "edx",
		environment:       "prod",
		cacheID:           "42",
		region:            "us-east-1",
		keypair:           "deployment",
		instanceType:      "m1.large",
		roleName:          "abbey",
		baseAMI:           "ami-0568456c",
		playbookDir:       "configuration/playbooks/edx-east",
		completionSignals: 2,
		msgDelay:          5 * time.Second,
	}
}

func TestBuildLaunchSpecLooksUpNetwork(t *testing.T) {
	o := testOptions()
	in, err := loadInputs(o, time.Unix(1700000000, 0))
	require.NoError(t, err)

	l := &countingLookup{}
	spec, err := buildLaunchSpec(context.Background(), l, o, in)
	require.NoError(t, err)

	assert.Equal(t, 1, l.network)
	assert.Equal(t, 0, l.blessed)
	assert.Equal(t, "ami-0568456c", spec.ImageID)
	assert.Equal(t, "subnet-found", spec.SubnetID)
	assert.Equal(t, []string{"sg-found"}, spec.SecurityGroupIDs)
	assert.Equal(t, "abbey", spec.InstanceProfile)
	assert.Contains(t, spec.UserData, "SQS_NAME="+in.rc.RunID)
}

func TestBuildLaunchSpecExplicitIDsSkipLookup(t *testing.T) {
	o := testOptions()
	o.subnetID = "subnet-given"
	o.securityGroupID = "sg-given"
	o.blessed = true
	in, err := loadInputs(o, time.Now())
	require.NoError(t, err)

	l := &countingLookup{}
	spec, err := buildLaunchSpec(context.Background(), l, o, in)
	require.NoError(t, err)
	assert.Equal(t, 0, l.network)
	assert.Equal(t, 1, l.blessed)
	assert.Equal(t, "ami-blessed", spec.ImageID)
	assert.Equal(t, "subnet-given", spec.SubnetID)
}

func TestBuildLaunchSpecLookupError(t *testing.T) {
	o := testOptions()
	in, err := loadInputs(o, time.Now())
	require.NoError(t, err)

	_, err = buildLaunchSpec(context.Background(), &countingLookup{err: errors.New("no subnet")}, o, in)
	assert.EqualError(t, err, "no subnet")
}

func TestBakeOptionsValidate(t *testing.T) {
	o := testOptions()
	assert.NoError(t, o.validate())

	o.completionSignals = 0
	assert.Error(t, o.validate())

	o = testOptions()
	o.baseAMI = ""
	assert.Error(t, o.validate())
	o.blessed = true
	assert.NoError(t, o.validate())
}

func TestLoadInputsMissingVarsFile(t *testing.T) {
	o := testOptions()
	o.varsFile = "/nonexistent/vars.yml"
	_, err := loadInputs(o, time.Now())
	assert.Error(t, err)
}

// A dry run resolves everything locally: no AWS client is ever built.
func TestBakeNoopDryRun(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"bake", "--noop", "-p", "edxapp", "-d", "edx", "-e", "prod", "-c", "42", "-v"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())

	got := out.String()
	assert.Contains(t, got, "Would have created queue ")
	assert.Contains(t, got, "-abbey-prod-edx-edxapp")
	assert.Contains(t, got, "image_id: ami-0568456c")
	assert.Contains(t, got, "subnet for prod-edx/edxapp")
	assert.Contains(t, got, "instance_profile_name: abbey")
	assert.True(t, strings.Contains(got, "#!/bin/bash"), "verbose dry run prints the user data")
}

func TestPrintResultHeadingsOnce(t *testing.T) {
	res := &pipeline.Result{
		ImageID: "ami-0baked",
		Tasks:   []model.TaskReportEntry{{Task: "A", Invocation: "copy src=a dest=b", Duration: 3 * time.Second}},
	}
	res.Summary.Add("Launch", time.Second)
	res.Summary.Add("EC2 Launch", 2*time.Second)
	res.Summary.Finish(3 * time.Second)

	var out bytes.Buffer
	printResult(&out, res, 5)

	got := out.String()
	assert.Equal(t, 1, strings.Count(got, "Summary:"), got)
	assert.Equal(t, 1, strings.Count(got, "longest"), got)
	assert.Contains(t, got, "5 longest tasks (seconds):")
	assert.Contains(t, got, "ami-0baked")
}
