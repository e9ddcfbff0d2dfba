package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/opensource-finance/kestrel/internal/assessment"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

const (
	bundleFlagName = "bundle"
	rulesFlagName  = "rules"
	outputFlagName = "output"
)

func newScoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "score",
		Usage: "Score one application against a bundle",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "age", Usage: "Applicant age in years", Required: true},
			&cli.FloatFlag{Name: "income", Usage: "Monthly income; loan_to_income divides the loan amount by it", Required: true},
			&cli.FloatFlag{Name: "loan-amount", Usage: "Requested loan amount", Required: true},
			&cli.IntFlag{Name: "loan-tenure-months", Usage: "Loan tenure in months", Required: true},
			&cli.IntFlag{Name: "avg-dpd", Usage: "Average days past due per delinquency", Value: 0},
			&cli.FloatFlag{Name: "delinquency-ratio", Usage: "Delinquent accounts as a percentage", Value: 0},
			&cli.FloatFlag{Name: "credit-utilization", Usage: "Credit utilization as a percentage", Value: 0},
			&cli.IntFlag{Name: "open-accounts", Usage: "Number of open loan accounts", Value: 1},
			&cli.StringFlag{Name: "residence-type", Usage: "Owned, Rented or Mortgage", Value: "Owned"},
			&cli.StringFlag{Name: "loan-purpose", Usage: "Education, Home, Personal or Auto", Value: "Personal"},
			&cli.StringFlag{Name: "loan-type", Usage: "Secured or Unsecured", Value: "Unsecured"},
			&cli.StringFlag{
				Name:  bundleFlagName,
				Usage: "Bundle location: path, file://, s3://bucket/key or registry://<id|active> (optional, defaults to model.bundle)",
			},
			&cli.StringFlag{
				Name:  rulesFlagName,
				Usage: "Policy rule file (optional, defaults to rules.path)",
			},
			&cli.StringFlag{
				Name:  outputFlagName,
				Usage: "Output format: json or text",
				Value: "json",
			},
		},
		Action: runScore,
	}
}

func applicationFromFlags(cmd *cli.Command) domain.Application {
	return domain.Application{
		Age:                    int(cmd.Int("age")),
		Income:                 cmd.Float("income"),
		LoanAmount:             cmd.Float("loan-amount"),
		LoanTenureMonths:       int(cmd.Int("loan-tenure-months")),
		AvgDPDPerDelinquency:   int(cmd.Int("avg-dpd")),
		DelinquencyRatio:       cmd.Float("delinquency-ratio"),
		CreditUtilizationRatio: cmd.Float("credit-utilization"),
		NumberOfOpenAccounts:   int(cmd.Int("open-accounts")),
		ResidenceType:          domain.ResidenceType(cmd.String("residence-type")),
		LoanPurpose:            domain.LoanPurpose(cmd.String("loan-purpose")),
		LoanType:               domain.LoanType(cmd.String("loan-type")),
	}
}

func runScore(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	location := cmd.String(bundleFlagName)
	if location == "" {
		location = cfg.Model.Bundle
	}
	opts := model.Options{S3Region: cfg.Model.S3Region, S3Endpoint: cfg.Model.S3Endpoint}
	if isRegistry(location) {
		repo, err := openRegistry(cmd)
		if err != nil {
			return err
		}
		defer repo.Close()
		opts.Store = repo
	}

	bundle, err := model.LoadLocation(ctx, location, opts)
	if err != nil {
		return err
	}

	rulesPath := cmd.String(rulesFlagName)
	if rulesPath == "" {
		rulesPath = cfg.Rules.Path
	}
	engine, err := rules.NewEngineFromFile(rulesPath, cfg.Rules.MaxConcurrency)
	if err != nil {
		return err
	}
	defer engine.Close()

	svc, err := assessment.NewService(assessment.Deps{
		Scorer: scoring.New(bundle, scoring.Scale{Base: cfg.Scoring.Base, Span: cfg.Scoring.Span}),
		Engine: engine,
	})
	if err != nil {
		return err
	}

	a, err := svc.Assess(ctx, &assessment.Request{Application: applicationFromFlags(cmd)})
	if err != nil {
		return err
	}

	switch cmd.String(outputFlagName) {
	case "text":
		fmt.Printf("probability:  %.6f\n", a.Score.DefaultProbability)
		fmt.Printf("credit score: %d\n", a.Score.CreditScore)
		fmt.Printf("rating:       %s\n", a.Score.Rating)
		fmt.Printf("status:       %s\n", a.Status)
		for _, r := range a.Reasons {
			fmt.Printf("  - %s\n", r)
		}
		return nil
	default:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	}
}

func isRegistry(location string) bool {
	return strings.HasPrefix(location, "registry://")
}
