package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/flexprice/invoicetree/internal/config"
	"github.com/flexprice/invoicetree/internal/domain/invoiceitem"
	"github.com/flexprice/invoicetree/internal/logger"
	"github.com/flexprice/invoicetree/internal/service"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// request is the JSON document the command consumes: the billed history of
// one account plus the freshly proposed target state.
type request struct {
	AccountID       string                     `json:"account_id"`
	TargetInvoiceID string                     `json:"target_invoice_id"`
	Existing        []*invoiceitem.InvoiceItem `json:"existing"`
	Proposed        []*invoiceitem.InvoiceItem `json:"proposed"`
}

func main() {
	inputPath := flag.String("input", "-", "path to the reconciliation request JSON, - for stdin")
	pretty := flag.Bool("pretty", false, "indent the output JSON")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log, *inputPath, *pretty); err != nil {
		log.Fatalf("reconciliation failed: %v", err)
	}
}

func run(cfg *config.Configuration, log *logger.Logger, inputPath string, pretty bool) error {
	data, err := readInput(inputPath)
	if err != nil {
		return err
	}

	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	svc := service.NewReconciliationService(cfg, log)
	result, err := svc.Reconcile(context.Background(), service.ReconciliationParams{
		AccountID:       req.AccountID,
		TargetInvoiceID: req.TargetInvoiceID,
		ExistingItems:   req.Existing,
		ProposedItems:   req.Proposed,
	})
	if err != nil {
		return err
	}

	var out []byte
	if pretty {
		out, err = json.MarshalIndent(result, "", "  ")
	} else {
		out, err = json.Marshal(result)
	}
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
