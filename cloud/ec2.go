package cloud

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"abbey/model"
	"abbey/poll"
)

// EC2API is the subset of the EC2 client abbey calls.
type EC2API interface {
	RunInstances(ctx context.Context, in *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeInstanceStatus(ctx context.Context, in *ec2.DescribeInstanceStatusInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceStatusOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	CreateImage(ctx context.Context, in *ec2.CreateImageInput, optFns ...func(*ec2.Options)) (*ec2.CreateImageOutput, error)
	DescribeImages(ctx context.Context, in *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	CreateTags(ctx context.Context, in *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	DescribeSubnets(ctx context.Context, in *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	DescribeSecurityGroups(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
}

// EC2 launches the build instance and turns it into an image.
type EC2 struct {
	api EC2API
}

func NewEC2(api EC2API) *EC2 {
	return &EC2{api: api}
}

// Eventually-consistent lookups right after creation answer with these.
var notFoundCodes = map[string]bool{
	"InvalidInstanceID.NotFound": true,
	"InvalidAMIID.NotFound":      true,
}

// notReady turns a not-found answer into a transient poll error.
func notReady(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && notFoundCodes[apiErr.ErrorCode()] {
		return fmt.Errorf("%w: %s", poll.ErrNotReady, apiErr.ErrorCode())
	}
	return err
}

func (c *EC2) Launch(ctx context.Context, spec model.LaunchSpec) (string, error) {
	in := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		UserData:     aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData))),
	}
	if spec.KeyName != "" {
		in.KeyName = aws.String(spec.KeyName)
	}
	if spec.SubnetID != "" {
		in.SubnetId = aws.String(spec.SubnetID)
	}
	if len(spec.SecurityGroupIDs) > 0 {
		in.SecurityGroupIds = spec.SecurityGroupIDs
	}
	if spec.InstanceProfile != "" {
		in.IamInstanceProfile = &types.IamInstanceProfileSpecification{Name: aws.String(spec.InstanceProfile)}
	}

	out, err := c.api.RunInstances(ctx, in)
	if err != nil {
		return "", fmt.Errorf("run instance: %w", err)
	}
	if len(out.Instances) == 0 {
		return "", errors.New("run instance: no instance returned")
	}
	id := aws.ToString(out.Instances[0].InstanceId)
	log.Printf("cloud: launched %s from %s", id, spec.ImageID)
	return id, nil
}

func (c *EC2) InstanceState(ctx context.Context, id string) (string, error) {
	out, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return "", notReady(err)
	}
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			if inst.State != nil {
				return string(inst.State.Name), nil
			}
		}
	}
	return "", fmt.Errorf("%w: instance %s not listed", poll.ErrNotReady, id)
}

func (c *EC2) SystemStatus(ctx context.Context, id string) (string, error) {
	out, err := c.api.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds:         []string{id},
		IncludeAllInstances: aws.Bool(true),
	})
	if err != nil {
		return "", notReady(err)
	}
	for _, st := range out.InstanceStatuses {
		if st.SystemStatus != nil {
			return string(st.SystemStatus.Status), nil
		}
	}
	return "", fmt.Errorf("%w: no status for %s", poll.ErrNotReady, id)
}

func (c *EC2) Terminate(ctx context.Context, id string) error {
	if _, err := c.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}}); err != nil {
		return fmt.Errorf("terminate %s: %w", id, err)
	}
	return nil
}

func (c *EC2) CreateImage(ctx context.Context, instanceID, name, description string) (string, error) {
	out, err := c.api.CreateImage(ctx, &ec2.CreateImageInput{
		InstanceId:  aws.String(instanceID),
		Name:        aws.String(name),
		Description: aws.String(description),
		NoReboot:    aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("create image from %s: %w", instanceID, err)
	}
	return aws.ToString(out.ImageId), nil
}

func (c *EC2) ImageState(ctx context.Context, imageID string) (string, error) {
	out, err := c.api.DescribeImages(ctx, &ec2.DescribeImagesInput{ImageIds: []string{imageID}})
	if err != nil {
		return "", notReady(err)
	}
	if len(out.Images) == 0 {
		return "", fmt.Errorf("%w: image %s not listed", poll.ErrNotReady, imageID)
	}
	return string(out.Images[0].State), nil
}

func (c *EC2) Tag(ctx context.Context, resourceID, key, value string) error {
	_, err := c.api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{resourceID},
		Tags:      []types.Tag{{Key: aws.String(key), Value: aws.String(value)}},
	})
	if err != nil {
		return fmt.Errorf("tag %s %s: %w", resourceID, key, err)
	}
	return nil
}

func filter(name string, values ...string) types.Filter {
	return types.Filter{Name: aws.String(name), Values: values}
}

// Network is where the build instance is placed.
type Network struct {
	SubnetID        string
	VpcID           string
	SecurityGroupID string
}

// LookupNetwork finds the subnet tagged with the stack name and play, then
// the play's security group inside that subnet's VPC.
func (c *EC2) LookupNetwork(ctx context.Context, stack, play string) (Network, error) {
	subnets, err := c.api.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []types.Filter{
			filter("tag:aws:cloudformation:stack-name", stack),
			filter("tag:play", play),
		},
	})
	if err != nil {
		return Network{}, fmt.Errorf("describe subnets: %w", err)
	}
	if len(subnets.Subnets) < 1 {
		return Network{}, fmt.Errorf("expected at least one subnet for stack %s play %s, got 0", stack, play)
	}
	net := Network{
		SubnetID: aws.ToString(subnets.Subnets[0].SubnetId),
		VpcID:    aws.ToString(subnets.Subnets[0].VpcId),
	}

	groups, err := c.api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{
			filter("vpc-id", net.VpcID),
			filter("tag:play", play),
		},
	})
	if err != nil {
		return Network{}, fmt.Errorf("describe security groups: %w", err)
	}
	if len(groups.SecurityGroups) < 1 {
		return Network{}, fmt.Errorf("expected a security group for play %s in %s, got 0", play, net.VpcID)
	}
	net.SecurityGroupID = aws.ToString(groups.SecurityGroups[0].GroupId)
	return net, nil
}

// BlessedImage returns the single image tagged blessed for the play.
func (c *EC2) BlessedImage(ctx context.Context, env, dep, play string) (string, error) {
	out, err := c.api.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Filters: []types.Filter{
			filter("tag:environment", env),
			filter("tag:deployment", dep),
			filter("tag:play", play),
			filter("tag:blessed", "True"),
		},
	})
	if err != nil {
		return "", fmt.Errorf("describe images: %w", err)
	}
	if len(out.Images) != 1 {
		return "", fmt.Errorf("expected only one blessed ami, got %d", len(out.Images))
	}
	return aws.ToString(out.Images[0].ImageId), nil
}
