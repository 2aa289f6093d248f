package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/deepnoodle-ai/caseflow"
	"github.com/deepnoodle-ai/caseflow/executors"
	"github.com/fatih/color"
)

// CLI configuration
type cliConfig struct {
	ConfigFile   string
	CaseID       string
	PatientID    string
	ClinicianID  string
	Specialty    string
	Transcript   string
	OracleScript string
	PollInterval time.Duration
	Timeout      time.Duration
	Verbose      bool
	JSON         bool
}

func main() {
	cli, command := parseFlags()

	config := caseflow.DefaultConfig()
	if cli.ConfigFile != "" {
		var err error
		config, err = caseflow.LoadConfig(cli.ConfigFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if cli.PollInterval > 0 {
		config.Polling.Interval = cli.PollInterval
	}

	ctx := context.Background()
	if cli.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cli.Timeout)
		defer cancel()
	}

	var logger *slog.Logger
	switch {
	case cli.Verbose:
		logger = caseflow.NewLogger(slog.LevelDebug)
	default:
		logger = caseflow.NewSilentLogger()
	}

	store, cleanup, err := openStore(ctx, config)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer cleanup()

	service, err := buildService(ctx, cli, config, store, logger)
	if err != nil {
		log.Fatalf("Failed to build service: %v", err)
	}
	defer service.Close()

	if err := runCommand(ctx, cli, service, command); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func parseFlags() (*cliConfig, string) {
	cli := &cliConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to the YAML configuration file (optional)")
	flag.StringVar(&cli.CaseID, "case", "", "Case ID")
	flag.StringVar(&cli.PatientID, "patient", "", "Patient ID for case creation")
	flag.StringVar(&cli.ClinicianID, "clinician", "", "Clinician ID for case creation")
	flag.StringVar(&cli.Specialty, "specialty", "", "Specialty for case creation (optional)")
	flag.StringVar(&cli.Transcript, "transcript", "", "Transcript text, or @path to read it from a file")
	flag.StringVar(&cli.OracleScript, "oracle-script", "", "Path to a Risor decision script (replaces the LLM oracle)")
	flag.DurationVar(&cli.PollInterval, "poll-interval", 0, "Override the intervention polling interval (e.g. 2s)")
	flag.DurationVar(&cli.Timeout, "timeout", 0, "Command timeout (e.g. 30s, 5m)")
	flag.BoolVar(&cli.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&cli.JSON, "json", false, "Output results in JSON format")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Caseflow - LLM-orchestrated case workflow runner

Usage: %s [options] <command>

Commands:
  create    Create a case (-case, -patient, -clinician; -transcript optional)
  run       Start or resume the workflow for a case (-case)
  provide   Supply the raw transcript for a parked case (-case, -transcript)
  show      Show a case's full state: status history, interventions, trace
  stats     Show case, intervention, and polling counts
  delete    Delete a case and all of its records (-case)

Examples:
  # Create a case and start the workflow; without a transcript it parks
  # awaiting input and begins polling
  %s -case c1 -patient p1 -clinician dr1 create
  %s -case c1 run

  # Supply the transcript; the poll loop resumes the workflow on its own
  %s -case c1 -transcript @visit.txt provide

Options:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	return cli, flag.Arg(0)
}

func openStore(ctx context.Context, config *caseflow.Config) (caseflow.Store, func(), error) {
	if config.Database.URL == "" {
		color.Yellow("No database configured, using in-memory store (state is not persisted)")
		return caseflow.NewMemoryStore(), func() {}, nil
	}
	store, err := caseflow.NewPostgresStore(ctx, config.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func buildService(ctx context.Context, cli *cliConfig, config *caseflow.Config, store caseflow.Store, logger *slog.Logger) (*caseflow.Service, error) {
	var client caseflow.ChatClient
	if apiKey := config.APIKey(); apiKey != "" {
		groq, err := caseflow.NewGroqClient(caseflow.GroqClientOptions{
			APIKey:  apiKey,
			Model:   config.LLM.Model,
			BaseURL: config.LLM.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		client = groq
	} else if cli.OracleScript == "" {
		return nil, fmt.Errorf("%s is not set (or pass -oracle-script)", config.LLM.APIKeyEnv)
	}

	execs := executors.All(client)

	var oracle caseflow.Oracle
	if cli.OracleScript != "" {
		code, err := os.ReadFile(cli.OracleScript)
		if err != nil {
			return nil, fmt.Errorf("failed to read oracle script: %w", err)
		}
		oracle, err = caseflow.NewScriptOracle(ctx, string(code))
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		oracle, err = caseflow.NewLLMOracle(caseflow.LLMOracleOptions{
			Client:   client,
			Actions:  actionSet(execs),
			Guidance: executors.DecisionGuidance,
		})
		if err != nil {
			return nil, err
		}
	}

	return caseflow.NewService(caseflow.ServiceOptions{
		Store:        store,
		Oracle:       oracle,
		Executors:    execs,
		Logger:       logger,
		MaxSteps:     config.Engine.MaxSteps,
		RepeatPolicy: config.Engine.RepeatPolicy,
		PollInterval: config.Polling.Interval,
		MaxPolls:     config.Polling.MaxPolls,
	})
}

// actionSet enumerates the built-in routing labels plus the executor names.
func actionSet(execs []caseflow.Executor) []caseflow.Action {
	actions := []caseflow.Action{
		caseflow.ActionWait,
		caseflow.ActionResolveIntervention,
		caseflow.ActionError,
		caseflow.ActionComplete,
	}
	seen := map[caseflow.Action]bool{}
	for _, a := range actions {
		seen[a] = true
	}
	for _, e := range execs {
		if a := caseflow.Action(e.Name()); !seen[a] {
			actions = append(actions, a)
			seen[a] = true
		}
	}
	return actions
}

func runCommand(ctx context.Context, cli *cliConfig, service *caseflow.Service, command string) error {
	switch command {
	case "create":
		return runCreate(ctx, cli, service)
	case "run":
		return runWorkflow(ctx, cli, service)
	case "provide":
		return runProvide(ctx, cli, service)
	case "show":
		return runShow(ctx, cli, service)
	case "stats":
		return runStats(ctx, cli, service)
	case "delete":
		return runDelete(ctx, cli, service)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func requireCaseID(cli *cliConfig) error {
	if cli.CaseID == "" {
		return fmt.Errorf("-case is required")
	}
	return nil
}

func runCreate(ctx context.Context, cli *cliConfig, service *caseflow.Service) error {
	if err := requireCaseID(cli); err != nil {
		return err
	}
	transcript, err := resolveTranscript(cli.Transcript)
	if err != nil {
		return err
	}
	c := &caseflow.Case{
		ID:            cli.CaseID,
		PatientID:     cli.PatientID,
		ClinicianID:   cli.ClinicianID,
		Specialty:     cli.Specialty,
		RawTranscript: transcript,
	}
	if err := service.CreateCase(ctx, c); err != nil {
		return err
	}
	color.Green("Created case %s", c.ID)
	return nil
}

func runWorkflow(ctx context.Context, cli *cliConfig, service *caseflow.Service) error {
	if err := requireCaseID(cli); err != nil {
		return err
	}
	color.Blue("Running workflow for case %s", cli.CaseID)

	startTime := time.Now()
	result, err := service.Run(ctx, cli.CaseID, "run requested via cli")
	duration := time.Since(startTime)
	if err != nil {
		return err
	}

	if cli.JSON {
		return printJSON(result)
	}

	switch result.State {
	case caseflow.RunStateComplete:
		color.Green("Workflow completed in %d steps (%v)", result.Steps, duration.Round(time.Millisecond))
	case caseflow.RunStateAwaiting:
		color.Yellow("Workflow parked awaiting input after %d steps; polling started", result.Steps)
	case caseflow.RunStateFailed:
		color.Red("Workflow failed: %s", result.Diagnostic)
	default:
		color.White("Workflow state: %s", result.State)
	}
	for _, msg := range result.Trace {
		fmt.Printf("  %s\n", msg)
	}
	return nil
}

func runProvide(ctx context.Context, cli *cliConfig, service *caseflow.Service) error {
	if err := requireCaseID(cli); err != nil {
		return err
	}
	transcript, err := resolveTranscript(cli.Transcript)
	if err != nil {
		return err
	}
	if transcript == "" {
		return fmt.Errorf("-transcript is required")
	}
	if err := service.ProvideTranscript(ctx, cli.CaseID, transcript); err != nil {
		return err
	}
	color.Green("Transcript provided for case %s (%d chars)", cli.CaseID, len(transcript))
	color.White("An active poll loop will pick it up within one polling interval")
	return nil
}

func runShow(ctx context.Context, cli *cliConfig, service *caseflow.Service) error {
	if err := requireCaseID(cli); err != nil {
		return err
	}
	state, err := service.GetCaseState(ctx, cli.CaseID)
	if err != nil {
		return err
	}
	if cli.JSON {
		return printJSON(state)
	}

	color.Cyan("Case %s", state.Case.ID)
	color.White("Status: %s  RunState: %s  Polling: %v", state.Status, state.RunState, state.PollingActive)
	if len(state.History) > 0 {
		fmt.Println("History:")
		for _, entry := range state.History {
			fmt.Printf("  %s  %s\n", entry.Timestamp.Format(time.RFC3339), entry.Status)
		}
	}
	if len(state.Interventions) > 0 {
		fmt.Println("Interventions:")
		for _, record := range state.Interventions {
			fmt.Printf("  %s  %s  %s  missing=%v\n", record.ID, record.Status, record.Reason, record.MissingFields)
		}
	}
	if len(state.Trace) > 0 {
		fmt.Println("Trace:")
		for _, msg := range state.Trace {
			fmt.Printf("  %s\n", msg)
		}
	}
	return nil
}

func runStats(ctx context.Context, cli *cliConfig, service *caseflow.Service) error {
	stats, err := service.Statistics(ctx)
	if err != nil {
		return err
	}
	if cli.JSON {
		return printJSON(stats)
	}
	color.Cyan("Cases: %d  Pending interventions: %d  Active polls: %d",
		stats.Cases, stats.PendingInterventions, stats.ActivePolls)
	for _, caseID := range stats.PollingCases {
		fmt.Printf("  polling: %s\n", caseID)
	}
	return nil
}

func runDelete(ctx context.Context, cli *cliConfig, service *caseflow.Service) error {
	if err := requireCaseID(cli); err != nil {
		return err
	}
	if err := service.DeleteCase(ctx, cli.CaseID); err != nil {
		return err
	}
	color.Green("Deleted case %s", cli.CaseID)
	return nil
}

// resolveTranscript returns the flag value directly, or the contents of the
// named file when the value starts with @.
func resolveTranscript(value string) (string, error) {
	if len(value) > 1 && value[0] == '@' {
		data, err := os.ReadFile(value[1:])
		if err != nil {
			return "", fmt.Errorf("failed to read transcript file: %w", err)
		}
		return string(data), nil
	}
	return value, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
