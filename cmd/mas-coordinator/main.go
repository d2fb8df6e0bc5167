package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/dialforge/mas-coordinator/pkg/coordinator"
	"github.com/dialforge/mas-coordinator/pkg/events"
	"github.com/dialforge/mas-coordinator/pkg/server"
)

var rootCmd = &cobra.Command{
	Use:   "mas-coordinator",
	Short: "Conversational router that dispatches each turn to a backend agent",
	Long: `mas-coordinator serves a DIAL-compatible chat-completion deployment.
Each turn is classified by a language model, forwarded to the selected backend
agent (GPA or UMS) with its conversation context replayed, and the agent's
reply is rewritten into the final answer. All per-agent session state rides
inside the message payloads, so the service itself is stateless.`,
	RunE: run,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("addr", ":8080", "listen address")
	flags.String("deployment-name", "mas-coordinator", "deployment name to serve under")
	flags.String("dial-endpoint", "", "base URL of the DIAL core (LLM and GPA)")
	flags.String("dial-api-key", "", "API key for the DIAL core")
	flags.String("model-deployment", "gpt-4o", "model deployment for classification and finalization")
	flags.String("ums-agent-endpoint", "", "base URL of the UMS agent")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.Bool("verbose", false, "dump raw turn events to stdout")

	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func run(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	dialEndpoint := viper.GetString("dial-endpoint")
	if dialEndpoint == "" {
		return fmt.Errorf("dial-endpoint is required (flag or DIAL_ENDPOINT)")
	}
	umsEndpoint := viper.GetString("ums-agent-endpoint")
	if umsEndpoint == "" {
		return fmt.Errorf("ums-agent-endpoint is required (flag or UMS_AGENT_ENDPOINT)")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verbose := viper.GetBool("verbose")
	eventRouter, err := events.NewEventRouter(events.WithVerbose(verbose))
	if err != nil {
		return err
	}
	defer func() {
		_ = eventRouter.Close()
	}()
	if verbose {
		eventRouter.AddHandler("dump-events", "chat", eventRouter.DumpRawEvents)
	}

	coord := coordinator.New(coordinator.Config{
		DialEndpoint:     dialEndpoint,
		DialAPIKey:       viper.GetString("dial-api-key"),
		Deployment:       viper.GetString("model-deployment"),
		UMSAgentEndpoint: umsEndpoint,
	})

	srv := server.NewServer(
		viper.GetString("addr"),
		viper.GetString("deployment-name"),
		coord,
		server.WithSinks(events.NewWatermillSink(eventRouter.Publisher, "chat")),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return eventRouter.Run(groupCtx)
	})
	group.Go(func() error {
		<-eventRouter.Running()
		return srv.Run(groupCtx)
	})

	return group.Wait()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("exited with error")
		os.Exit(1)
	}
}
