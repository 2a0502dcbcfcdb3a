package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/javi11/archivemeta"
	"github.com/javi11/archivemeta/internal/logging"
)

var (
	configPath string
	logLevel   string

	cfg    Config
	logger *slog.Logger
	logOut io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "archivemeta",
	Short:         "Inspect archive attachments and build encrypted ZIP files",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = loadConfig(configPath); err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger, logOut, err = logging.New(cfg.Log)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logOut != nil {
			return logOut.Close()
		}
		return nil
	},
}

var inspectVolumes bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>...",
	Short: "List the members of archive files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := newInspector()
		if !inspectVolumes {
			arcs, err := in.InspectFiles(nil, args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), arcs)
		}
		arcs := make([]*archivemeta.Archive, 0, len(args))
		for _, first := range args {
			arc, err := in.InspectVolumes(nil, first)
			if err != nil {
				return err
			}
			arcs = append(arcs, arc)
		}
		return printJSON(cmd.OutOrStdout(), arcs)
	},
}

var emlCmd = &cobra.Command{
	Use:   "eml <message>",
	Short: "Inspect the attachments of a MIME message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		parts, err := newInspector().ProcessMessage(f)
		if err != nil {
			return err
		}
		type report struct {
			Filename    string               `json:"filename,omitempty"`
			ContentType string               `json:"content_type"`
			Broken      bool                 `json:"content_type_broken"`
			Archive     *archivemeta.Archive `json:"archive,omitempty"`
		}
		var out []report
		for _, p := range parts {
			out = append(out, report{
				Filename:    p.Filename,
				ContentType: p.ContentType,
				Broken:      p.CTFlags&archivemeta.CTBroken != 0,
				Archive:     p.Archive,
			})
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var (
	zipOutput   string
	zipPassword string
)

var zipCmd = &cobra.Command{
	Use:   "zip <file>...",
	Short: "Write files into a ZIP archive, AES encrypted when a password is set",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specs := make([]archivemeta.ZipFileSpec, 0, len(args))
		for _, p := range args {
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			st, err := os.Stat(p)
			if err != nil {
				return err
			}
			specs = append(specs, archivemeta.ZipFileSpec{
				Name:    filepath.Base(p),
				Data:    data,
				ModTime: st.ModTime(),
				Mode:    uint32(st.Mode().Perm()),
			})
		}
		out, err := archivemeta.WriteZip(specs, zipPassword,
			archivemeta.WithAESStrength(archivemeta.AESStrength(cfg.Writer.AESStrength)),
			archivemeta.WithCompressionLevel(cfg.Writer.CompressionLevel),
			archivemeta.WithWriterLogger(logger),
		)
		if err != nil {
			return err
		}
		logger.Info("zip written", "path", zipOutput, "entries", len(specs), "size", len(out))
		return os.WriteFile(zipOutput, out, 0o644)
	},
}

var (
	encOutput   string
	encPassword string
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt <file>",
	Short: "Wrap a file in an AES-256-CBC envelope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		start := time.Now()
		out, err := archivemeta.EncryptAES256CBC(data, encPassword)
		if err != nil {
			return err
		}
		logger.Info("envelope written", "path", encOutput, "size", len(out), "took", time.Since(start))
		return os.WriteFile(encOutput, out, 0o600)
	},
}

func newInspector() *archivemeta.Inspector {
	opts := []archivemeta.Option{
		archivemeta.WithLogger(logger),
		archivemeta.WithMaxEOCDProbes(cfg.Inspect.MaxEOCDProbes),
	}
	if !cfg.Inspect.SevenZipFallback {
		opts = append(opts, archivemeta.WithLister(nil))
	}
	return archivemeta.New(opts...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	inspectCmd.Flags().BoolVar(&inspectVolumes, "volumes", false, "treat each argument as the first volume of a RAR set")

	zipCmd.Flags().StringVarP(&zipOutput, "output", "o", "out.zip", "output archive")
	zipCmd.Flags().StringVarP(&zipPassword, "password", "p", "", "encrypt entries with WinZip AES")

	encryptCmd.Flags().StringVarP(&encOutput, "output", "o", "out.rzae", "output file")
	encryptCmd.Flags().StringVarP(&encPassword, "password", "p", "", "envelope password")
	_ = encryptCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(inspectCmd, emlCmd, zipCmd, encryptCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
