// Command conductor runs the review-gated content generation pipeline:
// requirements analysis, project planning, story generation, and code
// generation, each gated behind a human review decision.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"conductor/pkg/assembler"
	"conductor/pkg/config"
	"conductor/pkg/logx"
	metricsquery "conductor/pkg/metrics"
	"conductor/pkg/persistence"
	"conductor/pkg/provider"
	"conductor/pkg/provider/middleware/metrics"
	"conductor/pkg/review"
	"conductor/pkg/stage"
	"conductor/pkg/tokens"
)

func main() {
	var (
		workDir     string
		projectID   string
		projectName string
		runStage    string
		input       string
		inputFile   string
		statusID    string
		approveID   string
		rejectID    string
		reason      string
		feedback    string
		listPending bool
		dashboard   bool
		initConfig  bool
		setSecret   string
		deleteProj  string
		debug       bool
	)

	flag.StringVar(&workDir, "dir", ".", "project root holding the .conductor directory")
	flag.StringVar(&projectID, "project", "", "project id for stage operations")
	flag.StringVar(&projectName, "new-project", "", "create a project with this name and print its id")
	flag.StringVar(&runStage, "run", "", "run a pipeline stage: Requirements, Planning, Stories, or Code")
	flag.StringVar(&input, "input", "", "inline input text for the stage")
	flag.StringVar(&inputFile, "input-file", "", "file containing input text for the stage")
	flag.StringVar(&statusID, "status", "", "print the status of a stage record")
	flag.StringVar(&approveID, "approve", "", "approve a pending review")
	flag.StringVar(&rejectID, "reject", "", "reject a pending review")
	flag.StringVar(&reason, "reason", "", "decision reason")
	flag.StringVar(&feedback, "feedback", "", "rejection feedback")
	flag.BoolVar(&listPending, "pending", false, "list pending reviews")
	flag.BoolVar(&dashboard, "dashboard", false, "print the stage/review dashboard")
	flag.BoolVar(&initConfig, "init", false, "write a default config file and exit")
	flag.StringVar(&setSecret, "set-secret", "", "store a named secret (e.g. ANTHROPIC_API_KEY) in the encrypted secrets file")
	flag.StringVar(&deleteProj, "delete-project", "", "delete a project and all its records")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	if debug {
		logx.SetDebug(true)
	}
	logger := logx.NewLogger("conductor")

	if initConfig {
		if err := config.Save(config.DefaultConfig(), workDir); err != nil {
			logger.Error("failed to write config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", filepath.Join(workDir, config.ProjectDir, config.ConfigFilename))
		return
	}

	if setSecret != "" {
		if err := storeSecret(workDir, setSecret); err != nil {
			logger.Error("failed to store secret: %v", err)
			os.Exit(1)
		}
		fmt.Printf("stored %s\n", setSecret)
		return
	}

	cfg, err := config.LoadOrDefault(workDir)
	if err != nil {
		logger.Error("failed to load config: %v", err)
		os.Exit(1)
	}

	if err := unlockSecrets(workDir); err != nil {
		logger.Error("failed to unlock secrets: %v", err)
		os.Exit(1)
	}

	store, err := persistence.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database: %v", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	recorder := metrics.NewPrometheusRecorder()
	factory := provider.NewFactory(cfg, recorder)
	registry := provider.NewRegistry(factory, cfg)
	generator := provider.NewGenerator(cfg, registry)

	counter, err := tokens.NewCounter()
	if err != nil {
		logger.Error("failed to create token counter: %v", err)
		os.Exit(1)
	}

	deps := stage.Deps{
		Store:     store,
		Validator: stage.NewDependencyValidator(store),
		Assembler: assembler.New(cfg.Assembler, counter),
		Generator: generator,
	}

	// The gate and the stage managers reference each other: managers submit
	// reviews, decisions propagate back. The submitter adapter is filled in
	// once the gate exists.
	submitter := &lateSubmitter{}
	deps.Submitter = submitter
	managers := stage.Services(deps)
	propagators := make(map[stage.Stage]review.Propagator, len(managers))
	for s, mgr := range managers {
		propagators[s] = mgr
	}
	gate := review.NewGate(store, cfg.Review, propagators)
	submitter.gate = gate

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case projectName != "":
		project := &persistence.Project{Name: projectName}
		if err := store.CreateProject(project); err != nil {
			logger.Error("failed to create project: %v", err)
			os.Exit(1)
		}
		fmt.Println(project.ID)

	case deleteProj != "":
		if err := store.DeleteProjectCascade(deleteProj); err != nil {
			logger.Error("failed to delete project: %v", err)
			os.Exit(1)
		}
		fmt.Printf("deleted project %s\n", deleteProj)

	case runStage != "":
		s, err := stage.Parse(runStage)
		if err != nil {
			logger.Error("%v", err)
			os.Exit(1)
		}
		if projectID == "" {
			logger.Error("-project is required with -run")
			os.Exit(1)
		}
		text, err := readInput(input, inputFile)
		if err != nil {
			// Later stages draw on the approved prerequisite output;
			// only the first stage demands direct input.
			if _, hasPrereq := s.Prerequisite(); !hasPrereq {
				logger.Error("%v", err)
				os.Exit(1)
			}
			text = ""
		}
		rec, err := managers[s].Execute(ctx, projectID, text)
		if err != nil {
			logger.Error("%s failed: %v", s, err)
			os.Exit(1)
		}
		fmt.Printf("%s record %s is %s (review %s)\n", s, rec.ExternalID, rec.Status, rec.ReviewID)

	case statusID != "":
		fmt.Println(statusForRecord(managers, statusID))

	case approveID != "":
		if err := gate.Approve(approveID, reason, ""); err != nil {
			logger.Error("approve failed: %v", err)
			os.Exit(1)
		}
		fmt.Printf("review %s approved\n", approveID)

	case rejectID != "":
		if err := gate.Reject(rejectID, reason, feedback); err != nil {
			logger.Error("reject failed: %v", err)
			os.Exit(1)
		}
		fmt.Printf("review %s rejected\n", rejectID)

	case listPending:
		reviews, err := gate.ListPending()
		if err != nil {
			logger.Error("failed to list pending reviews: %v", err)
			os.Exit(1)
		}
		for _, r := range reviews {
			fmt.Printf("%s  %-12s  %s  submitted %s\n", r.ID, r.PipelineStage, r.ServiceName, r.SubmittedAt.Format(time.RFC3339))
		}

	case dashboard:
		rows, err := gate.Dashboard()
		if err != nil {
			logger.Error("failed to load dashboard: %v", err)
			os.Exit(1)
		}
		for _, row := range rows {
			reviewStatus := row.ReviewStatus
			if reviewStatus == "" {
				reviewStatus = "-"
			}
			fmt.Printf("%-20s  %-12s  %-14s  review=%-9s  %s\n",
				row.ProjectName, row.Stage, row.StageStatus, reviewStatus, row.StageID)
		}
		printOperationMetrics(ctx, cfg, logger)

	default:
		serve(ctx, cfg, gate, logger)
	}
}

// printOperationMetrics appends per-operation aggregates to the dashboard
// when a Prometheus server is configured.
func printOperationMetrics(ctx context.Context, cfg *config.Config, logger *logx.Logger) {
	if cfg.Metrics.PrometheusURL == "" {
		return
	}
	query, err := metricsquery.NewQueryService(cfg.Metrics.PrometheusURL)
	if err != nil {
		logger.Warn("metrics unavailable: %v", err)
		return
	}
	fmt.Println()
	for _, operation := range config.RequiredOperations {
		m, err := query.GetOperationMetrics(ctx, operation)
		if err != nil {
			logger.Warn("failed to query metrics for %s: %v", operation, err)
			continue
		}
		fmt.Printf("%-22s  requests=%-6d errors=%-4d tokens=%-8d avg=%.2fs\n",
			operation, m.RequestCount, m.ErrorCount, m.TotalTokens, m.AvgDuration)

		byProvider, err := query.GetOperationMetricsByProvider(ctx, operation)
		if err != nil {
			logger.Warn("failed to query per-provider metrics for %s: %v", operation, err)
			continue
		}
		for prov, pm := range byProvider {
			fmt.Printf("  %-20s  requests=%-6d errors=%-4d tokens=%-8d\n",
				prov, pm.RequestCount, pm.ErrorCount, pm.TotalTokens)
		}
	}
	fallbacks, err := query.GetFallbackCounts(ctx)
	if err != nil {
		logger.Warn("failed to query fallback counts: %v", err)
		return
	}
	for route, count := range fallbacks {
		fmt.Printf("fallback %-20s  %d\n", route, count)
	}
}

// lateSubmitter breaks the construction cycle between the stage managers
// and the review gate: managers are built first with this placeholder, the
// gate is built from the managers, then the gate is assigned here.
type lateSubmitter struct {
	gate *review.Gate
}

func (s *lateSubmitter) SubmitForReview(ctx context.Context, st stage.Stage, rec *persistence.StageRecord) (string, error) {
	return s.gate.SubmitForReview(ctx, st, rec)
}

// serve runs the long-lived mode: the review expiry sweeper plus the
// Prometheus metrics endpoint.
func serve(ctx context.Context, cfg *config.Config, gate *review.Gate, logger *logx.Logger) {
	go gate.RunSweeper(ctx)

	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listening on %s", cfg.Metrics.ListenAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("conductor running, ctrl-c to stop")
	<-ctx.Done()
	logger.Info("shutting down")
}

// unlockSecrets decrypts the project secrets file into memory when one
// exists, prompting for the password on the terminal.
func unlockSecrets(projectDir string) error {
	if !config.SecretsFileExists(projectDir) {
		return nil // environment variables only
	}

	fmt.Print("Secrets password: ")
	password, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	secrets, err := config.DecryptSecretsFile(projectDir, string(password))
	if err != nil {
		return err
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

// storeSecret adds or replaces one named secret in the encrypted secrets
// file, creating the file on first use. A new file's password is asked
// twice; an existing file's password must decrypt it before the rewrite.
func storeSecret(projectDir, name string) error {
	fmt.Printf("Value for %s: ", name)
	value, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read secret value: %w", err)
	}
	if len(value) == 0 {
		return fmt.Errorf("secret value cannot be empty")
	}

	secrets := map[string]string{}
	var password string
	if config.SecretsFileExists(projectDir) {
		fmt.Print("Secrets password: ")
		pw, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = string(pw)
		secrets, err = config.DecryptSecretsFile(projectDir, password)
		if err != nil {
			return err
		}
	} else {
		fmt.Print("New secrets password: ")
		pw, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Print("Confirm password: ")
		confirm, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if string(pw) != string(confirm) {
			return fmt.Errorf("passwords do not match")
		}
		if len(pw) == 0 {
			return fmt.Errorf("password cannot be empty")
		}
		password = string(pw)
	}

	secrets[name] = string(value)
	return config.EncryptSecretsFile(projectDir, password, secrets)
}

// statusForRecord asks each stage manager in turn; the record's external
// id prefix names its stage, so the first match wins.
func statusForRecord(managers map[stage.Stage]*stage.Manager, externalID string) string {
	for _, mgr := range managers {
		if status := mgr.GetStatus(externalID); status != stage.StatusFailed {
			return status
		}
	}
	return stage.StatusFailed
}

func readInput(inline, file string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read input file: %w", err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("stage input required: use -input or -input-file")
}
