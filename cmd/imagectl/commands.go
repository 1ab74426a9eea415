package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"portfolio/imagestore/internal/service"
	"portfolio/imagestore/internal/validate"
)

func (c *cli) ingestCmd() *cobra.Command {
	var contentType string
	var parallel int
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Validate and store image files, printing their references",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]service.IngestResult, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(parallel, 1))
			for i, file := range args {
				g.Go(func() error {
					result, err := c.ingestFile(ctx, file, contentType)
					if err != nil {
						return fmt.Errorf("%s: %w", file, err)
					}
					results[i] = result
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVar(&contentType, "type", "", "declared content type (default: derived from the file extension)")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "files ingested concurrently")
	return cmd
}

func (c *cli) ingestFile(ctx context.Context, file, contentType string) (service.IngestResult, error) {
	f, err := os.Open(file)
	if err != nil {
		return service.IngestResult{}, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return service.IngestResult{}, err
	}
	if contentType == "" {
		contentType, _ = c.app.Service.Policy().MIMEForExtension(validate.Extension(file))
	}

	return c.app.Service.Ingest(ctx, validate.UploadCandidate{
		Body:        f,
		ContentType: contentType,
		Filename:    filepath.Base(file),
		Size:        fi.Size(),
	})
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete REF...",
		Short: "Delete originals and their derivatives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, ref := range args {
				deleted, err := c.app.Service.Delete(cmd.Context(), ref)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%t\n", ref, deleted)
			}
			return nil
		},
	}
}

func (c *cli) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info REF",
		Short: "Show size, type and modification time of a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := c.app.Service.Introspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "filename:  %s\n", info.Filename)
			fmt.Fprintf(out, "size:      %s (%d bytes)\n", info.FormattedSize(), info.SizeBytes)
			fmt.Fprintf(out, "mime:      %s\n", info.MIME)
			fmt.Fprintf(out, "modified:  %s (%s)\n", info.ModTime.Format("2006-01-02 15:04:05"), humanize.Time(info.ModTime))
			fmt.Fprintf(out, "reference: %s\n", info.Reference)
			return nil
		},
	}
}

func (c *cli) thumbCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "thumb REF SIZE",
		Short: "Print the reference of a derivative",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := c.app.Service.ThumbnailReference(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ref)
			return nil
		},
	}
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove orphaned derivatives and regenerate missing ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := c.app.Sweeper.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func (c *cli) policyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Show accepted types, extensions, size limit and derivative sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy := c.app.Service.Policy()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "types:      %v\n", policy.AllowedMIMEs())
			fmt.Fprintf(out, "extensions: %v\n", policy.AllowedExtensions())
			fmt.Fprintf(out, "max size:   %s\n", policy.MaxBytesHuman())
			for _, s := range c.app.Service.Sizes() {
				fmt.Fprintf(out, "size:       %s %dx%d\n", s.Name, s.Width, s.Height)
			}
			return nil
		},
	}
}
