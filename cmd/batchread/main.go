package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"batchread/internal/config"
	"batchread/internal/engine"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath      string
		requestPath     string
		blockHeight     uint64
		blockResolution uint64
		pretty          bool
	)

	cmd := &cobra.Command{
		Use:   "batchread",
		Short: "Execute a declarative batch of read-only contract calls",
		Long: "batchread expands a request file into individual contract reads,\n" +
			"submits them as a single network-level batch and prints the reshaped\n" +
			"per-address, per-method, per-block result tree as JSON.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Optional .env overlay for credentials
			_ = godotenv.Load()

			cfg, err := config.Load(configPath)
			if err != nil {
				// Basic logger for startup errors
				log := zerolog.New(os.Stderr).With().Timestamp().Logger()
				log.Error().Err(err).Msg("failed to load config")
				return err
			}
			if key := os.Getenv("ETHERSCAN_API_KEY"); key != "" {
				cfg.Etherscan.APIKey = key
			}
			if u := os.Getenv("RPC_URL"); u != "" {
				cfg.RPCURL = u
			}

			logger := setupLogger(cfg.LogLevel)

			req, err := loadRequest(requestPath)
			if err != nil {
				logger.Error().Err(err).Msg("failed to load request")
				return err
			}

			logger.Info().
				Str("request", requestPath).
				Str("groups", humanize.Comma(int64(len(req)))).
				Uint64("blockHeight", blockHeight).
				Uint64("blockResolution", blockResolution).
				Msg("starting batchread")

			eng, err := engine.Open(cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to create engine")
				return err
			}

			start := time.Now()
			result, err := eng.Execute(cmd.Context(), req, engine.ExecOptions{
				BlockHeight:     blockHeight,
				BlockResolution: blockResolution,
			})
			if err != nil {
				logger.Error().Err(err).Msg("execution failed")
				return err
			}

			var out []byte
			if pretty {
				out, err = json.MarshalIndent(result, "", "  ")
			} else {
				out, err = json.Marshal(result)
			}
			if err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			logger.Info().
				Str("took", time.Since(start).String()).
				Msg("done")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.json", "path to config file")
	cmd.Flags().StringVar(&requestPath, "request", "request.json", "path to batch request file")
	cmd.Flags().Uint64Var(&blockHeight, "block-height", 1, "number of historical block samples per method")
	cmd.Flags().Uint64Var(&blockResolution, "block-resolution", 1, "stride between block samples")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON output")

	return cmd
}

// loadRequest reads and parses a batch request file
func loadRequest(path string) (engine.BatchRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}

	var req engine.BatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	if len(req) == 0 {
		return nil, fmt.Errorf("request contains no contract groups")
	}
	return req, nil
}

// setupLogger configures the zerolog logger
func setupLogger(level string) zerolog.Logger {
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
