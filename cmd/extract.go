package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/salon-face/internal/facecode"
	"github.com/example/salon-face/internal/grpcapi"
	"github.com/example/salon-face/internal/imageintake"
)

var extractCmd = &cobra.Command{
	Use:   "extract <image>",
	Short: "Print the face code of an image file as JSON",
	Long: `Extract reads an image file, derives its face code and prints it as JSON.
The output can be fed back into the compare command.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().Bool("raw", false, "Skip image type detection and hash any file")
	extractCmd.Flags().Bool("pretty", false, "Indent the JSON output")
	extractCmd.Flags().String("remote", "", "Extract through the gRPC service at this address")
}

func runExtract(cmd *cobra.Command, args []string) error {
	raw, pretty := mustGetBool(cmd, "raw"), mustGetBool(cmd, "pretty")
	remote := mustGetString(cmd, "remote")
	if remote == "" {
		return extractFile(cmd.OutOrStdout(), args[0], raw, pretty)
	}

	client, conn, err := grpcapi.Dial(cmd.Context(), remote, zap.NewNop())
	if err != nil {
		return err
	}
	defer conn.Close()
	return extractRemote(cmd.Context(), cmd.OutOrStdout(), client, args[0], raw, pretty)
}

// remoteExtractor is satisfied by *grpcapi.Client.
type remoteExtractor interface {
	Extract(ctx context.Context, imageBytes []byte) (facecode.FaceCode, error)
}

func extractRemote(ctx context.Context, out io.Writer, client remoteExtractor, path string, raw, pretty bool) error {
	data, err := readSource(path, raw)
	if err != nil {
		return err
	}
	code, err := client.Extract(ctx, data)
	if err != nil {
		return fmt.Errorf("extract %s: %w", path, err)
	}
	return writeCode(out, code, pretty)
}

func extractFile(out io.Writer, path string, raw, pretty bool) error {
	data, err := readSource(path, raw)
	if err != nil {
		return err
	}

	code, err := facecode.Extract(data)
	if err != nil {
		return fmt.Errorf("extract %s: %w", path, err)
	}
	return writeCode(out, code, pretty)
}

func writeCode(out io.Writer, code facecode.FaceCode, pretty bool) error {
	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(code)
}

func readSource(path string, raw bool) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	if raw {
		data, err := io.ReadAll(io.LimitReader(f, imageintake.MaxUploadSize+1))
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		if len(data) > imageintake.MaxUploadSize {
			return nil, imageintake.ErrTooLarge
		}
		return data, nil
	}

	img, err := imageintake.Read(f, path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return img.Data, nil
}
