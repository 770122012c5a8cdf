package cli

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/neuroscan/internal/presenter"
	"github.com/example/neuroscan/internal/predictor"
	"github.com/example/neuroscan/internal/selector"
	"github.com/example/neuroscan/internal/usecase"
	"github.com/example/neuroscan/internal/workflow"
)

type analyzeOptions struct {
	endpoint string
	asJSON   bool
}

type analyzeReport struct {
	AnalysisID string `json:"analysis_id"`
	*presenter.Verdict
}

func newAnalyzeCommand(configPath *string) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Submit one brain scan and print the verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			endpoint := cfg.Predictor.URL
			if opts.endpoint != "" {
				endpoint = opts.endpoint
			}
			client := predictor.NewHTTPClient(endpoint, cfg.Predictor.Timeout, logger)
			return runAnalyze(cmd, client, args[0], opts.asJSON, logger)
		},
	}
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "prediction URL, overrides the configured one")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the verdict as JSON")
	return cmd
}

func runAnalyze(cmd *cobra.Command, client predictor.Client, path string, asJSON bool, logger *zap.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	img, ok := selector.Accept([]selector.File{{
		Filename:    filepath.Base(path),
		ContentType: contentTypeOf(path, data),
		Data:        data,
	}})
	if !ok {
		return fmt.Errorf("%s is not an image", path)
	}

	notifier := workflow.NotifierFunc(func(n workflow.Notification) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", n.Title, n.Description)
	})
	uc := usecase.NewAnalysisUseCase(nil, nil, client, 0, logger)
	wf := workflow.New(uc.ForSession("cli"), notifier, logger)
	if err := wf.Select(img); err != nil {
		return err
	}

	if _, err := wf.Analyze(cmd.Context()); err != nil {
		return fmt.Errorf("analysis failed: %s", wf.Snapshot().ErrorDetail)
	}

	snap := wf.Snapshot()
	verdict := presenter.Present(snap.Result)
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(analyzeReport{AnalysisID: snap.AnalysisID, Verdict: verdict})
	}
	_, err = fmt.Fprintf(out, "%s\nAnalysis reference: %s\n", presenter.RenderTerminal(verdict), snap.AnalysisID)
	return err
}

// contentTypeOf prefers the extension's registered type and sniffs the
// bytes otherwise.
func contentTypeOf(path string, data []byte) string {
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}
