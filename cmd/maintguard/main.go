package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"maintguard/pkg/config"
	"maintguard/pkg/logx"
	"maintguard/pkg/pipeline"
	"maintguard/pkg/registry"
	"maintguard/pkg/trainer"
)

var (
	configPath = flag.String("config", "", "Path to YAML configuration file (optional)")
	logLevel   = flag.String("log-level", "", "Override log level (debug|info|warn|error)")
	version    = flag.Bool("version", false, "Show version information")

	train       = flag.Bool("train", false, "Build a dataset from the CMMS database and train a new model")
	predict     = flag.Bool("predict", false, "Score all active equipment and print the ranked results")
	equipmentNo = flag.String("equipment", "", "Score a single equipment by number")
	highRisk    = flag.Bool("high-risk", false, "Print only equipment at or above the high-risk threshold")
	threshold   = flag.Float64("threshold", -1, "High-risk threshold override (0..1); negative uses the configured value")
	riskReport  = flag.Bool("report", false, "Print the plain-text risk report")
	reportFile  = flag.String("report-file", "", "Also write the risk report to this file")
	jsonOutput  = flag.Bool("json", false, "Emit results as JSON instead of text")
)

const (
	AppName    = "maintguard"
	AppVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	effectiveLogLevel := cfg.Log.Level
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}
	logger := logx.NewLogger(effectiveLogLevel, AppName)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pipe, err := pipeline.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	runErr := run(ctx, pipe)
	if err := pipe.Close(); err != nil {
		logger.Warn("Failed to close pipeline cleanly", "error", err)
	}
	if runErr != nil {
		exitError(logger, runErr)
	}
}

func run(ctx context.Context, pipe *pipeline.Pipeline) error {
	switch {
	case *train:
		return runTrain(ctx, pipe)
	case *equipmentNo != "":
		return runPredictOne(ctx, pipe, *equipmentNo)
	case *highRisk:
		return runHighRisk(ctx, pipe)
	case *riskReport:
		return runReport(ctx, pipe)
	case *predict:
		return runPredictAll(ctx, pipe)
	default:
		flag.Usage()
		return errors.New("no operation requested: use -train, -predict, -equipment, -high-risk or -report")
	}
}

func runTrain(ctx context.Context, pipe *pipeline.Pipeline) error {
	rep, err := pipe.Train(ctx)
	if err != nil {
		return err
	}

	if *jsonOutput {
		return printJSON(rep)
	}

	fmt.Printf("Training complete in %s\n", rep.Duration.Round(0))
	fmt.Printf("  Samples: %d (train %d / validation %d / test %d), positives %d\n",
		rep.Counts.Total, rep.Counts.Train, rep.Counts.Validation, rep.Counts.Test, rep.Counts.Positives)
	fmt.Printf("  Threshold: %.2f (objective %s)\n", rep.Threshold, rep.Objective)
	for _, split := range []string{"train", "validation", "test"} {
		m, ok := rep.Metrics[split]
		if !ok {
			continue
		}
		fmt.Printf("  %-10s auc=%.3f precision=%.3f recall=%.3f f1=%.3f\n",
			split, m.ROCAUC, m.Precision, m.Recall, m.F1)
	}
	return nil
}

func runPredictOne(ctx context.Context, pipe *pipeline.Pipeline, no string) error {
	result, err := pipe.PredictOne(ctx, no)
	if err != nil {
		return err
	}

	if *jsonOutput {
		return printJSON(result)
	}

	fmt.Printf("%s  %s\n", result.EquipmentNo, result.Description)
	fmt.Printf("  Location:            %s\n", result.Location)
	fmt.Printf("  Failure probability: %.3f\n", result.FailureProbability)
	fmt.Printf("  Risk level:          %s\n", result.RiskLevel)
	fmt.Printf("  Recommendation:      %s\n", result.Recommendation)
	return nil
}

func runPredictAll(ctx context.Context, pipe *pipeline.Pipeline) error {
	results, err := pipe.PredictAll(ctx)
	if err != nil {
		return err
	}

	if *jsonOutput {
		return printJSON(results)
	}

	fmt.Printf("%-15s %-30s %-15s %-8s %-10s\n", "Equipment", "Description", "Location", "Prob", "Risk")
	for _, r := range results {
		fmt.Printf("%-15s %-30.30s %-15s %-8.3f %-10s\n",
			r.EquipmentNo, r.Description, r.Location, r.FailureProbability, r.RiskLevel)
	}
	return nil
}

func runHighRisk(ctx context.Context, pipe *pipeline.Pipeline) error {
	results, err := pipe.HighRisk(ctx, *threshold)
	if err != nil {
		return err
	}

	if *jsonOutput {
		return printJSON(results)
	}

	if len(results) == 0 {
		fmt.Println("No equipment above the high-risk threshold")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%-15s %-8.3f %-10s %s\n",
			r.EquipmentNo, r.FailureProbability, r.RiskLevel, r.Recommendation)
	}
	return nil
}

func runReport(ctx context.Context, pipe *pipeline.Pipeline) error {
	text, err := pipe.RiskReport(ctx)
	if err != nil {
		return err
	}

	fmt.Print(text)
	if *reportFile != "" {
		if err := os.WriteFile(*reportFile, []byte(text), 0o644); err != nil {
			return fmt.Errorf("write report file: %w", err)
		}
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exitError(logger *logx.Logger, err error) {
	var notFound *registry.ModelNotFoundError
	var insufficient *trainer.DataInsufficientError
	switch {
	case errors.As(err, &notFound):
		fmt.Fprintln(os.Stderr, "Error: no trained model available; run with -train first")
	case errors.As(err, &insufficient):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	default:
		logger.Error("Operation failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}
