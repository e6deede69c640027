package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/edaniels/golog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/quidome/rgbd-associate/pkg/archive"
	"github.com/quidome/rgbd-associate/pkg/associate"
	"github.com/quidome/rgbd-associate/pkg/dataset"
	"github.com/quidome/rgbd-associate/pkg/frameindex"
	"github.com/quidome/rgbd-associate/pkg/stream"
)

const (
	name    = "rgbd-associate"
	version = "0.2.0"
)

type options struct {
	verbose bool
}

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:     name,
		Short:   "Associate timestamped data streams by nearest timestamp",
		Long:    "RGB-D Associate matches records of independently sampled streams (ground truth poses, color frames, depth frames) by nearest timestamp and packages the associated frames into a single archive.",
		Version: version,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("RGB-D Associate CLI")
			cmd.Printf("Version: %s\n", version)
			if opts.verbose {
				cmd.Println("Verbose mode: enabled")
			}
			cmd.Println("")
			cmd.Println("Use --help to see available commands and options")
		},
	}

	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)

	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")

	// The original dataset tools spell flags with underscores (--max_diff).
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.AddCommand(newAssociateCmd(opts))
	rootCmd.AddCommand(newIndexCmd(opts))
	rootCmd.AddCommand(newPackageCmd(opts))

	return rootCmd
}

func newLogger(opts *options) golog.Logger {
	if opts.verbose {
		return golog.NewDevelopmentLogger(name)
	}
	return golog.NewLogger(name)
}

type jsonRecord struct {
	Timestamp float64  `json:"timestamp"`
	Fields    []string `json:"fields"`
}

func newAssociateCmd(opts *options) *cobra.Command {
	var (
		maxDiff    float64
		jsonOutput bool
	)

	associateCmd := &cobra.Command{
		Use:   "associate [base] [secondary...]",
		Short: "Associate one or more streams with a base stream",
		Long:  "Associate the records of one or more secondary files with the records of a base file. A base record is printed only when every secondary file has a record within --max-diff seconds of it.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tuples, err := associate.AssociateFiles(args[0], args[1:], maxDiff)
			if err != nil {
				return err
			}

			if jsonOutput {
				out := make([][]jsonRecord, 0, len(tuples))
				for _, t := range tuples {
					records := make([]jsonRecord, 0, len(t))
					for _, r := range t {
						records = append(records, jsonRecord{Timestamp: r.Timestamp, Fields: r.Fields})
					}
					out = append(out, records)
				}
				if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				for _, t := range tuples {
					values := make([]string, 0, 2*len(t))
					for _, r := range t {
						values = append(values, r.Values()...)
					}
					cmd.Println(strings.Join(values, " "))
				}
			}

			if opts.verbose {
				var skew float64
				for _, t := range tuples {
					skew = max(skew, t.MaxSkew())
				}
				cmd.PrintErrf("associated %d records, max skew %ss\n", len(tuples), stream.FormatTimestamp(skew))
			}
			return nil
		},
	}

	associateCmd.Flags().Float64Var(&maxDiff, "max-diff", associate.DefaultMaxDiff, "maximally allowed time difference in seconds for matching entries")
	associateCmd.Flags().BoolVar(&jsonOutput, "json", false, "print associated records as JSON")

	return associateCmd
}

func newIndexCmd(opts *options) *cobra.Command {
	var (
		output   string
		prefix   string
		maxDepth int
	)

	indexCmd := &cobra.Command{
		Use:   "index [directory]",
		Short: "Write a timestamp index for a directory of frames",
		Long:  "Scan a directory of image frames and print a 'timestamp filename' index. Timestamps come from the file name (<seconds>.<fraction>.png), then EXIF, then the file modification time.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			directory := filepath.Clean(args[0])

			indexOpts := frameindex.DefaultOptions()
			indexOpts.Scan.MaxDepth = maxDepth
			indexOpts.Prefix = prefix
			if !cmd.Flags().Changed("prefix") {
				indexOpts.Prefix = filepath.Base(directory)
			}
			indexOpts.Logger = newLogger(opts)

			s, err := frameindex.Build(os.DirFS(directory), ".", indexOpts)
			if err != nil {
				return err
			}

			header := []string{
				fmt.Sprintf("frames in %s", filepath.Base(directory)),
				"timestamp filename",
			}

			if output == "" || output == "-" {
				if err := frameindex.Write(cmd.OutOrStdout(), s, header...); err != nil {
					return err
				}
			} else if err := writeIndexFile(output, s, header); err != nil {
				return err
			}

			if opts.verbose {
				cmd.PrintErrf("indexed %d frames\n", s.Len())
			}
			return nil
		},
	}

	indexCmd.Flags().StringVarP(&output, "output", "o", "-", "index file to write ('-' for stdout)")
	indexCmd.Flags().StringVar(&prefix, "prefix", "", "path prefix for indexed files (default: the directory name)")
	indexCmd.Flags().IntVar(&maxDepth, "max-depth", 0, "maximum recursion depth (0 = no recursion, -1 = unlimited)")

	return indexCmd
}

func newPackageCmd(opts *options) *cobra.Command {
	buildOpts := dataset.DefaultOptions()
	var (
		output    string
		format    string
		overwrite bool
	)

	packageCmd := &cobra.Command{
		Use:   "package",
		Short: "Package associated poses and frames into an archive",
		Long:  "Associate ground truth poses with color and depth frames, decode the frames and save timestamps, poses and frames as arrays in a single npz or sqlite archive.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := archive.ParseFormat(format)
			if err != nil {
				return err
			}

			buildOpts.Logger = newLogger(opts)

			d, err := dataset.Build(cmd.Context(), buildOpts)
			if err != nil {
				return err
			}

			path, err := d.Save(cmd.Context(), output, f, archive.Options{Overwrite: overwrite})
			if err != nil {
				return err
			}

			cmd.Printf("max depth: %d\n", d.MaxDepth)
			cmd.Printf("saved %d samples to %s\n", d.N, path)
			return nil
		},
	}

	flags := packageCmd.Flags()
	flags.StringVar(&buildOpts.Groundtruth, "groundtruth-file", buildOpts.Groundtruth, "ground truth trajectory (base stream)")
	flags.StringVar(&buildOpts.RGB, "rgb-file", buildOpts.RGB, "color frame index")
	flags.StringVar(&buildOpts.Depth, "depth-file", buildOpts.Depth, "depth frame index")
	flags.Float64Var(&buildOpts.MaxDiff, "max-diff", buildOpts.MaxDiff, "maximally allowed time difference in seconds for matching entries")
	flags.IntVar(&buildOpts.Payload.Width, "width", buildOpts.Payload.Width, "expected frame width (0 = take from the first frame)")
	flags.IntVar(&buildOpts.Payload.Height, "height", buildOpts.Payload.Height, "expected frame height (0 = take from the first frame)")
	flags.IntVar(&buildOpts.Workers, "workers", 0, "frames decoded concurrently (0 = number of CPUs)")
	flags.StringVar(&output, "output-path", "rgbd_dataset_freiburg3_long_office_household", "archive path; the format extension is appended when missing")
	flags.StringVar(&format, "format", string(archive.FormatNPZ), "archive format: npz or sqlite")
	flags.BoolVar(&overwrite, "overwrite", false, "replace an existing archive")

	return packageCmd
}

func writeIndexFile(path string, s stream.Stream, header []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := frameindex.Write(f, s, header...); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
