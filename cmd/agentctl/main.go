package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/bedrockagent"
	"github.com/aws/aws-sdk-go/service/bedrockagent/bedrockagentiface"
	"github.com/aws/aws-sdk-go/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go/service/bedrockagentruntime/bedrockagentruntimeiface"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"agentctl/pkg/agent"
	"agentctl/pkg/config"
	"agentctl/pkg/ingest"
	"agentctl/pkg/invoke"
	"agentctl/pkg/logging"
)

func init() {
	// Dispatch logging output instead of writing all levels' messages to
	// stderr.
	logging.Set(logging.Configure(func(l *logrus.Logger) {
		l.SetOutput(io.Discard)
	}))
	logging.Set(logging.Hook(&levelWriterHook{os.Stdout, []logrus.Level{
		logrus.WarnLevel, logrus.InfoLevel, logrus.DebugLevel, logrus.TraceLevel}}))
	logging.Set(logging.Hook(&levelWriterHook{os.Stderr, []logrus.Level{
		logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}}))
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		// Buffered so the signal isn't lost if we're not ready to receive.
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		for sigrecv := range c {
			logging.New("main").Info("Received signal: ", sigrecv)
			cancel()
		}
	}()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		logging.New("main").Error(err)
		exitCode := 1
		if coder, ok := err.(cli.ExitCoder); ok {
			exitCode = coder.ExitCode()
		}
		os.Exit(exitCode)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "agentctl",
		Usage: "operate managed agents and their knowledge bases",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a TOML defaults file",
			},
			&cli.StringFlag{
				Name:  "region",
				Usage: "control-plane region, overriding the ambient AWS configuration",
			},
			&cli.Int64Flag{
				Name:  "page-size",
				Usage: "listing page size for control-plane queries",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "maximum concurrent ingestion-job triggers",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "timeout applied to each resolution stage",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "log level (trace, debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			return logging.Set(logging.Level(c.String("log-level")))
		},
		// Errors are logged once in main; the default handler would print
		// them a second time before exiting.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			syncCommand(),
			agentsCommand(),
			invokeCommand(),
		},
	}
}

// settings merges the optional config file with command-line overrides.
func settings(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}
	if c.IsSet("region") {
		cfg.Region = c.String("region")
	}
	if c.IsSet("page-size") {
		cfg.PageSize = c.Int64("page-size")
	}
	if c.IsSet("concurrency") {
		cfg.MaxConcurrentJobs = c.Int("concurrency")
	}
	if c.IsSet("timeout") {
		cfg.SetTimeout(c.Duration("timeout"))
	}
	return &cfg, nil
}

// controlPlaneSession builds an SDK session from ambient credentials plus
// any configured region override.
func controlPlaneSession(cfg *config.Config) (*session.Session, error) {
	options := session.Options{SharedConfigState: session.SharedConfigEnable}
	if cfg.Region != "" {
		options.Config = aws.Config{Region: aws.String(cfg.Region)}
	}
	return session.NewSessionWithOptions(options)
}

// Client constructors are variables so tests can run commands against a
// fake control plane.
var newControlPlane = func(cfg *config.Config) (bedrockagentiface.BedrockAgentAPI, error) {
	sess, err := controlPlaneSession(cfg)
	if err != nil {
		return nil, err
	}
	return bedrockagent.New(sess), nil
}

var newRuntimePlane = func(cfg *config.Config) (bedrockagentruntimeiface.BedrockAgentRuntimeAPI, error) {
	sess, err := controlPlaneSession(cfg)
	if err != nil {
		return nil, err
	}
	return bedrockagentruntime.New(sess), nil
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "start ingestion jobs for every data source of the agent's knowledge base",
		ArgsUsage: "AGENT_NAME",
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return cli.Exit("agent name must be provided", 1)
			}

			cfg, err := settings(c)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			api, err := newControlPlane(cfg)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			resolver := agent.NewResolver(api, logging.New("resolver"), cfg.PageSize)
			dispatcher := ingest.NewDispatcher(api, logging.New("dispatcher"), cfg.MaxConcurrentJobs, cfg.PageSize, cfg.Timeout())

			report, err := syncAgent(c.Context, resolver, dispatcher, name, cfg.Timeout())
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			log := logging.New("sync")
			if failed := report.Failed(); failed > 0 {
				log.Warnf("%d of %d ingestion jobs failed to start", failed, len(report.Triggers))
			} else {
				log.Infof("started %d ingestion jobs for knowledge base %s", len(report.Triggers), report.KnowledgeBaseID)
			}
			return nil
		},
	}
}

// syncAgent runs the resolution-and-dispatch pipeline: agent name to agent
// id, id to its latest version, (id, version) to the associated knowledge
// base, then one ingestion job per data source. Stages 1-3 fail fast; the
// dispatch stage records per-source failures without aborting siblings.
func syncAgent(ctx context.Context, resolver *agent.Resolver, dispatcher *ingest.Dispatcher, name string, timeout time.Duration) (*ingest.Report, error) {
	stage := func(parent context.Context) (context.Context, context.CancelFunc) {
		if timeout > 0 {
			return context.WithTimeout(parent, timeout)
		}
		return context.WithCancel(parent)
	}

	stageCtx, cancel := stage(ctx)
	agentID, err := resolver.AgentID(stageCtx, name)
	cancel()
	if err != nil {
		return nil, err
	}

	stageCtx, cancel = stage(ctx)
	version, err := resolver.LatestVersion(stageCtx, agentID)
	cancel()
	if err != nil {
		return nil, err
	}

	stageCtx, cancel = stage(ctx)
	knowledgeBaseID, err := resolver.KnowledgeBase(stageCtx, agentID, version)
	cancel()
	if err != nil {
		return nil, err
	}

	return dispatcher.DispatchAll(ctx, knowledgeBaseID)
}

func agentsCommand() *cli.Command {
	return &cli.Command{
		Name:  "agents",
		Usage: "list the managed agents",
		Action: func(c *cli.Context) error {
			cfg, err := settings(c)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			api, err := newControlPlane(cfg)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tID\tSTATUS\tLATEST VERSION")
			input := &bedrockagent.ListAgentsInput{MaxResults: aws.Int64(cfg.PageSize)}
			err = api.ListAgentsPagesWithContext(c.Context, input,
				func(page *bedrockagent.ListAgentsOutput, lastPage bool) bool {
					for _, s := range page.AgentSummaries {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
							aws.StringValue(s.AgentName),
							aws.StringValue(s.AgentId),
							aws.StringValue(s.AgentStatus),
							aws.StringValue(s.LatestAgentVersion))
					}
					return true
				})
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return w.Flush()
		},
	}
}

func invokeCommand() *cli.Command {
	return &cli.Command{
		Name:      "invoke",
		Usage:     "send a prompt to an agent and print its completion",
		ArgsUsage: "AGENT_NAME PROMPT",
		Action: func(c *cli.Context) error {
			name := c.Args().Get(0)
			prompt := c.Args().Get(1)
			if name == "" || prompt == "" {
				return cli.Exit("agent name and prompt must be provided", 1)
			}

			cfg, err := settings(c)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			api, err := newControlPlane(cfg)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			runtime, err := newRuntimePlane(cfg)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			resolver := agent.NewResolver(api, logging.New("resolver"), cfg.PageSize)
			agentID, err := resolver.AgentID(c.Context, name)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			aliasID, err := resolver.AliasID(c.Context, agentID)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			invoker := invoke.NewInvoker(runtime, logging.New("invoke"))
			completion, err := invoker.Invoke(c.Context, agentID, aliasID, prompt)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Println(completion)
			return nil
		},
	}
}
