package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/salon-face/internal/facecode"
	"github.com/example/salon-face/internal/usecase"
)

var compareCmd = &cobra.Command{
	Use:   "compare <a.json> <b.json>",
	Short: "Score two face codes produced by extract",
	Args:  cobra.ExactArgs(2),
	RunE:  runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)

	compareCmd.Flags().Float64("threshold", usecase.DefaultThreshold, "Minimum similarity treated as a match")
	compareCmd.Flags().Bool("json", false, "Print the result as JSON")
}

type compareOutput struct {
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold"`
	Matched    bool    `json:"matched"`
}

func runCompare(cmd *cobra.Command, args []string) error {
	threshold := mustGetFloat64(cmd, "threshold")
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be within [0,1], got %v", threshold)
	}

	a, err := loadFaceCode(args[0])
	if err != nil {
		return err
	}
	b, err := loadFaceCode(args[1])
	if err != nil {
		return err
	}

	return writeComparison(cmd.OutOrStdout(), a, b, threshold, mustGetBool(cmd, "json"))
}

func writeComparison(out io.Writer, a, b facecode.FaceCode, threshold float64, asJSON bool) error {
	score := facecode.Similarity(a, b)
	result := compareOutput{Similarity: score, Threshold: threshold, Matched: score >= threshold}

	if asJSON {
		return json.NewEncoder(out).Encode(result)
	}
	verdict := "no match"
	if result.Matched {
		verdict = "match"
	}
	_, err := fmt.Fprintf(out, "similarity: %.6f\nthreshold:  %.2f\nresult:     %s\n", score, threshold, verdict)
	return err
}

func loadFaceCode(path string) (facecode.FaceCode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return facecode.FaceCode{}, fmt.Errorf("read face code: %w", err)
	}
	var code facecode.FaceCode
	if err := json.Unmarshal(data, &code); err != nil {
		return facecode.FaceCode{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := code.Validate(); err != nil {
		return facecode.FaceCode{}, fmt.Errorf("%s: %w", path, err)
	}
	return code, nil
}
