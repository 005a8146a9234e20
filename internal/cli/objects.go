package cli

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/raptscallions/storage/internal/storage"
)

func newUploadCmd() *cobra.Command {
	var (
		contentType string
		metadata    map[string]string
	)

	cmd := &cobra.Command{
		Use:   "upload [key] <file|->",
		Short: "Upload a file or stdin",
		Long: `Upload a file, or stdin when the file is "-".

Without a key, a random one is generated from a UUID and the file extension.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[len(args)-1]
			key := ""
			if len(args) == 2 {
				key = args[0]
			}
			if key == "" {
				key = uuid.New().String() + filepath.Ext(source)
			}

			if contentType == "" {
				contentType = detectContentType(source)
			}

			body, size, err := openSource(cmd, source)
			if err != nil {
				return err
			}
			defer body.Close()

			_, b, err := openBackend()
			if err != nil {
				return err
			}

			res, err := b.Upload(cmd.Context(), storage.UploadInput{
				Key:         key,
				Body:        body,
				Size:        size,
				ContentType: contentType,
				Metadata:    metadata,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", res.Key, res.ETag)
			return nil
		},
	}

	cmd.Flags().StringVarP(&contentType, "content-type", "t", "", "content type (default: detected from the file extension)")
	cmd.Flags().StringToStringVarP(&metadata, "meta", "m", nil, "metadata as key=value pairs")

	return cmd
}

func openSource(cmd *cobra.Command, source string) (io.ReadCloser, int64, error) {
	if source == "-" {
		return io.NopCloser(cmd.InOrStdin()), -1, nil
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", source, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("reading %s: %w", source, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%s is a directory", source)
	}
	return f, info.Size(), nil
}

func detectContentType(source string) string {
	if ct := mime.TypeByExtension(filepath.Ext(source)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <key> [file]",
		Short: "Download an object to a file or stdout",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, b, err := openBackend()
			if err != nil {
				return err
			}

			rc, err := b.Download(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer rc.Close()

			if len(args) == 1 || args[1] == "-" {
				_, err := io.Copy(cmd.OutOrStdout(), rc)
				return err
			}

			out, err := os.Create(args[1])
			if err != nil {
				return fmt.Errorf("creating %s: %w", args[1], err)
			}
			n, err := io.Copy(out, rc)
			if closeErr := out.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return fmt.Errorf("writing %s: %w", args[1], err)
			}

			log.Info().Str("key", args[0]).Str("file", args[1]).Int64("bytes", n).Msg("Downloaded")
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete an object (succeeds if it does not exist)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, b, err := openBackend()
			if err != nil {
				return err
			}
			return b.Delete(cmd.Context(), args[0])
		},
	}
}

func newExistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exists <key>",
		Short: "Print whether an object exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, b, err := openBackend()
			if err != nil {
				return err
			}

			exists, err := b.Exists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), exists)
			return nil
		},
	}
}

func newSignCmd() *cobra.Command {
	var (
		method  string
		expires time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sign <key>",
		Short: "Print a time-limited URL for an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := storage.ParseMethod(method)
			if err != nil {
				return err
			}

			_, b, err := openBackend()
			if err != nil {
				return err
			}

			signed, err := b.SignedURL(cmd.Context(), args[0], storage.SignedURLOptions{
				Method:  m,
				Expires: expires,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), signed.URL)
			log.Debug().
				Str("method", string(signed.Method)).
				Time("expires_at", signed.ExpiresAt).
				Msg("Signed URL issued")
			return nil
		},
	}

	cmd.Flags().StringVar(&method, "method", "GET", "HTTP method the URL grants (GET or PUT)")
	cmd.Flags().DurationVar(&expires, "expires", 0, "URL lifetime (default: STORAGE_SIGNED_URL_EXPIRATION_SECONDS)")

	return cmd
}
