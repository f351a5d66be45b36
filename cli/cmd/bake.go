package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"abbey/cli/style"
	"abbey/cloud"
	"abbey/hub"
	"abbey/model"
	"abbey/notify"
	"abbey/pipeline"
	"abbey/report"
	"abbey/saga"
	"abbey/storage"
	"abbey/userdata"
)

type bakeOptions struct {
	noop        bool
	secureVars  string
	stackName   string
	play        string
	playbookDir string
	deployment  string
	environment string
	verbose     bool
	noCleanup   bool
	varsFile    string
	refsFile    string

	configurationVersion        string
	configurationSecureVersion  string
	configurationSecureRepo     string
	configurationPrivateVersion string
	configurationPrivateRepo    string

	cacheID      string
	identity     string
	region       string
	keypair      string
	instanceType string
	roleName     string
	msgDelay     time.Duration
	baseAMI      string
	blessed      bool

	notifyURL         string
	completionSignals int
	top               int
	ui                string
	listen            string
	subnetID          string
	securityGroupID   string
	reportBucket      string
}

var bake bakeOptions

var bakeCmd = &cobra.Command{
	Use:   "bake",
	Short: "Launch a build instance, configure it and snapshot an image",
	Args:  cobra.NoArgs,
	RunE:  runBake,
}

func init() {
	f := bakeCmd.Flags()
	f.BoolVar(&bake.noop, "noop", false, "print the launch specification without creating anything")
	f.StringVar(&bake.secureVars, "secure-vars", "", "secure vars file from the root of the secure repo (default ansible/vars/ENVIRONMENT-DEPLOYMENT.yml)")
	f.StringVar(&bake.stackName, "stack-name", "", "stack name used to find the subnet (default ENVIRONMENT-DEPLOYMENT)")
	f.StringVarP(&bake.play, "play", "p", "", "play name without the yml extension")
	f.StringVar(&bake.playbookDir, "playbook-dir", "configuration/playbooks/edx-east", "directory to find playbooks in")
	f.StringVarP(&bake.deployment, "deployment", "d", "", "deployment")
	f.StringVarP(&bake.environment, "environment", "e", "", "environment")
	f.BoolVarP(&bake.verbose, "verbose", "v", false, "print every field of each task result")
	f.BoolVar(&bake.noCleanup, "no-cleanup", false, "leave the instance and queue in place when the bake ends")
	f.StringVar(&bake.varsFile, "vars", "", "path to an extra vars file")
	f.StringVar(&bake.refsFile, "refs", "", "path to a vars file with app git refs")
	f.StringVar(&bake.configurationVersion, "configuration-version", "master", "configuration repo branch")
	f.StringVar(&bake.configurationSecureVersion, "configuration-secure-version", "master", "configuration-secure repo branch")
	f.StringVar(&bake.configurationSecureRepo, "configuration-secure-repo", "git@github.com:edx-ops/prod-secure", "repo to use for the secure files")
	f.StringVar(&bake.configurationPrivateVersion, "configuration-private-version", "master", "configuration-private repo branch")
	f.StringVar(&bake.configurationPrivateRepo, "configuration-private-repo", "git@github.com:edx-ops/ansible-private", "repo to use for private playbooks")
	f.StringVarP(&bake.cacheID, "cache-id", "c", "", "unique id to use as part of the cache prefix")
	f.StringVarP(&bake.identity, "identity", "i", "", "identity file for pulling the secure repo")
	f.StringVarP(&bake.region, "region", "r", cfg.Region, "AWS region")
	f.StringVarP(&bake.keypair, "keypair", "k", "deployment", "keypair to use for the instance")
	f.StringVarP(&bake.instanceType, "instance-type", "t", "m1.large", "instance type to launch")
	f.StringVar(&bake.roleName, "role-name", "abbey", "instance profile to launch with (must exist)")
	f.DurationVar(&bake.msgDelay, "msg-delay", 5*time.Second, "how long to hold progress events so they print in order")
	f.StringVarP(&bake.baseAMI, "base-ami", "b", "ami-0568456c", "image to use as a base")
	f.BoolVar(&bake.blessed, "blessed", false, "look up the blessed image for environment, deployment and play")
	f.StringVar(&bake.notifyURL, "notify-url", cfg.NotifyURL, "webhook to post the outcome to")
	f.IntVar(&bake.completionSignals, "completion-signals", 2, "completion events that end the configuration run (one per playbook)")
	f.IntVar(&bake.top, "top", report.DefaultTop, "number of slowest tasks to report")
	f.StringVar(&bake.ui, "ui", "auto", "output mode: auto, live or plain")
	f.StringVar(&bake.listen, "listen", cfg.ListenAddr, "serve run progress over websocket on this address")
	f.StringVar(&bake.subnetID, "subnet-id", "", "subnet to launch in, skipping the lookup")
	f.StringVar(&bake.securityGroupID, "security-group-id", "", "security group to launch with, skipping the lookup")
	f.StringVar(&bake.reportBucket, "report-bucket", cfg.S3Bucket, "bucket to upload the transcript and summary to")

	for _, name := range []string{"play", "deployment", "environment", "cache-id"} {
		bakeCmd.MarkFlagRequired(name)
	}
	bakeCmd.MarkFlagsMutuallyExclusive("base-ami", "blessed")

	rootCmd.AddCommand(bakeCmd)
}

func (o bakeOptions) validate() error {
	if o.completionSignals < 1 {
		return fmt.Errorf("--completion-signals must be at least 1, got %d", o.completionSignals)
	}
	if o.msgDelay < 0 {
		return fmt.Errorf("--msg-delay must not be negative")
	}
	if !o.blessed && o.baseAMI == "" {
		return fmt.Errorf("either --base-ami or --blessed is required")
	}
	return nil
}

// imageLookup resolves what the launch spec needs from the account.
type imageLookup interface {
	LookupNetwork(ctx context.Context, stack, play string) (cloud.Network, error)
	BlessedImage(ctx context.Context, env, dep, play string) (string, error)
}

// dryRunLookup stands in for the account during --noop.
type dryRunLookup struct{}

func (dryRunLookup) LookupNetwork(_ context.Context, stack, play string) (cloud.Network, error) {
	return cloud.Network{SubnetID: "<subnet for " + stack + "/" + play + ">", SecurityGroupID: "<security group for " + play + ">"}, nil
}

func (dryRunLookup) BlessedImage(_ context.Context, env, dep, play string) (string, error) {
	return fmt.Sprintf("<blessed image for %s-%s-%s>", env, dep, play), nil
}

type bakeInputs struct {
	rc       model.RunContext
	extra    userdata.VarsFile
	refs     userdata.VarsFile
	identity string
}

func loadInputs(o bakeOptions, now time.Time) (bakeInputs, error) {
	in := bakeInputs{
		rc: model.NewRunContext(now, o.environment, o.deployment, o.play, o.region, o.cacheID, o.stackName),
	}
	var err error
	if in.extra, err = userdata.LoadVars(o.varsFile); err != nil {
		return in, err
	}
	if in.refs, err = userdata.LoadVars(o.refsFile); err != nil {
		return in, err
	}
	if in.identity, err = userdata.LoadIdentity(o.identity); err != nil {
		return in, err
	}
	return in, nil
}

func buildLaunchSpec(ctx context.Context, lookup imageLookup, o bakeOptions, in bakeInputs) (model.LaunchSpec, error) {
	image := o.baseAMI
	if o.blessed {
		var err error
		if image, err = lookup.BlessedImage(ctx, in.rc.Environment, in.rc.Deployment, in.rc.Play); err != nil {
			return model.LaunchSpec{}, err
		}
	}

	subnet, group := o.subnetID, o.securityGroupID
	if subnet == "" || group == "" {
		net, err := lookup.LookupNetwork(ctx, in.rc.StackName, in.rc.Play)
		if err != nil {
			return model.LaunchSpec{}, err
		}
		if subnet == "" {
			subnet = net.SubnetID
		}
		if group == "" {
			group = net.SecurityGroupID
		}
	}

	script, err := userdata.Render(userdata.Params{
		Environment:                 in.rc.Environment,
		Deployment:                  in.rc.Deployment,
		Play:                        in.rc.Play,
		CacheID:                     in.rc.CacheID,
		QueueName:                   in.rc.RunID,
		QueueRegion:                 in.rc.Region,
		ConfigurationVersion:        o.configurationVersion,
		ConfigurationSecureVersion:  o.configurationSecureVersion,
		ConfigurationSecureRepo:     o.configurationSecureRepo,
		ConfigurationPrivateVersion: o.configurationPrivateVersion,
		ConfigurationPrivateRepo:    o.configurationPrivateRepo,
		PlaybookDir:                 o.playbookDir,
		SecureVars:                  o.secureVars,
		Identity:                    in.identity,
		ExtraVars:                   in.extra.Raw,
		GitRefs:                     in.refs.Raw,
	})
	if err != nil {
		return model.LaunchSpec{}, err
	}

	return model.LaunchSpec{
		ImageID:          image,
		InstanceType:     o.instanceType,
		KeyName:          o.keypair,
		SubnetID:         subnet,
		SecurityGroupIDs: []string{group},
		InstanceProfile:  o.roleName,
		UserData:         script,
	}, nil
}

func runBake(cmd *cobra.Command, args []string) error {
	o := bake
	if err := o.validate(); err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	in, err := loadInputs(o, time.Now())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if o.noop {
		return dryRun(ctx, out, o, in)
	}

	decision, err := resolveUIMode(o.ui, o.verbose, out)
	if err != nil {
		return err
	}
	if decision.warning != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), style.Warning.Render(decision.warning))
	}

	var notifier pipeline.Notifier = notify.NewWebhook(o.notifyURL)
	res, err := bakeImage(ctx, out, o, in, decision.useLive)
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, style.ErrorBox.Render("✗ "+err.Error()))
		if nerr := notifier.Notify(notifyCtx, notify.Failed(in.rc, err)); nerr != nil {
			log.Printf("notify: %v", nerr)
		}
		return err
	}
	if nerr := notifier.Notify(notifyCtx, notify.Succeeded(in.rc, res.ImageID)); nerr != nil {
		log.Printf("notify: %v", nerr)
	}
	return nil
}

func dryRun(ctx context.Context, out io.Writer, o bakeOptions, in bakeInputs) error {
	spec, err := buildLaunchSpec(ctx, dryRunLookup{}, o, in)
	if err != nil {
		return err
	}
	doc, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Would have created queue %s and launched:\n\n", in.rc.RunID)
	out.Write(doc)
	if o.verbose {
		fmt.Fprintln(out)
		fmt.Fprintln(out, style.DimText.Render("user data:"))
		fmt.Fprint(out, spec.UserData)
	}
	return nil
}

// bakeImage wires the pipeline to AWS and runs it. Output of the bake is
// written to out whether or not the bake succeeded.
func bakeImage(ctx context.Context, out io.Writer, o bakeOptions, in bakeInputs, live bool) (*pipeline.Result, error) {
	clients, err := cloud.Connect(ctx, in.rc.Region)
	if err != nil {
		return nil, err
	}
	spec, err := buildLaunchSpec(ctx, clients.EC2, o, in)
	if err != nil {
		return nil, err
	}

	store, closeStore := openSagaStore(ctx)
	defer closeStore()

	tracker := hub.NewTracker(in.rc.RunID, in.rc.App())
	var ws *hub.Hub
	if o.listen != "" {
		var auth *hub.TokenAuth
		if cfg.HubSecret != "" {
			auth = hub.NewTokenAuth(cfg.HubSecret, in.rc.RunID, 24*time.Hour)
		}
		ws = hub.New(cfg.AllowedOrigins)
		srv, err := hub.Listen(o.listen, ws, tracker, cfg.AllowedOrigins, auth)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", o.listen, err)
		}
		defer srv.Shutdown(context.WithoutCancel(ctx))
		fmt.Fprintf(out, "%s %s\n", style.DimText.Render("progress on"), "ws://"+srv.Addr()+"/ws")
		if auth != nil {
			token, err := auth.Issue(time.Now())
			if err != nil {
				return nil, fmt.Errorf("watch token: %w", err)
			}
			fmt.Fprintf(out, "%s %s\n", style.DimText.Render("watch token"), token)
		}
	}

	opts := pipeline.DefaultOptions()
	opts.DelayWindow = o.msgDelay
	opts.CompletionSignals = o.completionSignals
	opts.NoCleanup = o.noCleanup

	var transcript bytes.Buffer
	pl := &pipeline.Pipeline{
		Context: in.rc,
		Launch:  spec,
		Tags: pipeline.ImageTags(in.rc, pipeline.Versions{
			Configuration:       o.configurationVersion,
			ConfigurationSecure: o.configurationSecureVersion,
			SecureRepo:          o.configurationSecureRepo,
		}, in.refs.Refs()),
		Compute:  clients.EC2,
		Images:   clients.EC2,
		Queue:    clients.SQS,
		Reporter: report.New(&transcript, o.verbose),
		Saga:     saga.New(store, in.rc),
		WS:       ws,
		Tracker:  tracker,
		Options:  opts,
	}

	printLaunch(out, in.rc, spec)

	var res *pipeline.Result
	var runErr error
	if live {
		ctx, cancel := context.WithCancel(ctx)
		res, runErr = runLive(ctx, cancel, in.rc, pl)
		cancel()
	} else {
		pl.Observer = plainObserver{out: out}
		pl.Reporter.Out = io.MultiWriter(out, &transcript)
		res, runErr = pl.Run(ctx)
	}

	if res != nil {
		printResult(out, res, o.top)
		uploadReport(ctx, o.reportBucket, in.rc, res, transcript.Bytes())
	}
	return res, runErr
}

func printLaunch(out io.Writer, rc model.RunContext, spec model.LaunchSpec) {
	fmt.Fprintln(out, style.Title.Render("baking "+rc.App()))
	fmt.Fprintf(out, "  %s %s\n", style.Key.Render("run"), style.Val.Render(rc.RunID))
	fmt.Fprintf(out, "  %s %s\n", style.Key.Render("image_id"), style.Val.Render(spec.ImageID))
	fmt.Fprintf(out, "  %s %s\n", style.Key.Render("instance_type"), style.Val.Render(spec.InstanceType))
	fmt.Fprintf(out, "  %s %s\n", style.Key.Render("subnet_id"), style.Val.Render(spec.SubnetID))
	fmt.Fprintf(out, "  %s %v\n", style.Key.Render("security_group_ids"), spec.SecurityGroupIDs)
	fmt.Fprintf(out, "  %s %s\n", style.Key.Render("key_name"), style.Val.Render(spec.KeyName))
	fmt.Fprintf(out, "  %s %s\n", style.Key.Render("instance_profile_name"), style.Val.Render(spec.InstanceProfile))
}

func printResult(out io.Writer, res *pipeline.Result, top int) {
	if len(res.Tasks) > 0 {
		fmt.Fprintln(out)
		report.WriteSlowest(out, res.Tasks, top)
	}
	fmt.Fprintln(out)
	report.WriteSummary(out, res.Summary, res.ImageID)
}

// openSagaStore uses Postgres when configured and reachable, memory
// otherwise.
func openSagaStore(ctx context.Context) (saga.Store, func()) {
	if cfg.DatabaseURL == "" {
		return saga.NewMemoryStore(), func() {}
	}
	pg, err := saga.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("saga: postgres unavailable, keeping the log in memory: %v", err)
		return saga.NewMemoryStore(), func() {}
	}
	if err := pg.Migrate(ctx); err != nil {
		log.Printf("saga: migrate: %v", err)
	}
	return pg, pg.Close
}

// uploadReport stores the transcript and summary next to each other. It
// never fails the bake.
func uploadReport(ctx context.Context, bucket string, rc model.RunContext, res *pipeline.Result, transcript []byte) {
	if bucket == "" || cfg.S3Endpoint == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	client, err := storage.NewClient(storage.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		log.Printf("report: %v", err)
		return
	}
	if err := client.EnsureBucket(ctx, bucket); err != nil {
		log.Printf("report: %v", err)
		return
	}

	summary, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		log.Printf("report: %v", err)
		return
	}
	for name, data := range map[string][]byte{
		"transcript.txt": transcript,
		"summary.json":   summary,
	} {
		contentType := "text/plain"
		if name == "summary.json" {
			contentType = "application/json"
		}
		if _, err := client.Put(ctx, bucket, rc.RunID, name, contentType, data); err != nil {
			log.Printf("report: %v", err)
		}
	}
}
