// Command sigtool inspects and ad-hoc signs Mach-O files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"zombiezen.com/go/log"

	"github.com/appsworld/sigtool/pkg/codesign"
)

type globalFlags struct {
	file         string
	identifier   string
	entitlements string
	debug        bool
}

var initLogOnce sync.Once

func initLogging(debug bool) {
	initLogOnce.Do(func() {
		level := log.Info
		if debug {
			level = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    level,
			Output: log.New(os.Stderr, "sigtool: ", log.StdFlags, nil),
		})
	})
}

func (g *globalFlags) readEntitlements() ([]byte, error) {
	if g.entitlements == "" {
		return nil, nil
	}
	b, err := os.ReadFile(g.entitlements)
	if err != nil {
		return nil, fmt.Errorf("read entitlements %s: %w", g.entitlements, err)
	}
	return b, nil
}

func (g *globalFlags) signOptions() (codesign.SignOptions, error) {
	ent, err := g.readEntitlements()
	if err != nil {
		return codesign.SignOptions{}, err
	}
	return codesign.SignOptions{Identifier: g.identifier, Entitlements: ent}, nil
}

func main() {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "sigtool",
		Short:         "inspect and ad-hoc sign Mach-O files",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initLogging(g.debug)
			if g.file == "" {
				return fmt.Errorf("-f is required")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&g.file, "file", "f", "", "`path` to the Mach-O file")
	root.PersistentFlags().StringVarP(&g.identifier, "identifier", "i", "", "code signing `identifier`")
	root.PersistentFlags().StringVarP(&g.entitlements, "entitlements", "e", "", "`path` to an entitlements plist")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "show debugging output")

	root.AddCommand(
		newCheckRequiresSignatureCommand(g),
		newShowArchCommand(g),
		newSizeCommand(g),
		newGenerateCommand(g),
		newInjectCommand(g),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		initLogging(g.debug)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

func newCheckRequiresSignatureCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-requires-signature",
		Short: "exit 0 if the file requires a signature, 1 otherwise",
		RunE: func(cmd *cobra.Command, args []string) error {
			requires, err := codesign.CheckRequiresSignature(g.file)
			if err != nil {
				return err
			}
			if !requires {
				os.Exit(1)
			}
			return nil
		},
	}
}

func newShowArchCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show-arch",
		Short: "print each slice's architecture name",
		RunE: func(cmd *cobra.Command, args []string) error {
			archs, err := codesign.ShowArch(g.file)
			if err != nil {
				return err
			}
			for _, a := range archs {
				fmt.Println(a)
			}
			return nil
		},
	}
}

func newSizeCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "size",
		Short: "print each slice's signature size, without modifying the file",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := g.signOptions()
			if err != nil {
				return err
			}
			sizes, err := codesign.ShowSize(cmd.Context(), g.file, opts)
			if err != nil {
				return err
			}
			for _, s := range sizes {
				fmt.Println(s)
			}
			return nil
		},
	}
}

func newGenerateCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "print each slice's raw signature bytes to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := g.signOptions()
			if err != nil {
				return err
			}
			blobs, err := codesign.Generate(cmd.Context(), g.file, opts)
			if err != nil {
				return err
			}
			for _, b := range blobs {
				if _, err := os.Stdout.Write(b); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newInjectCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inject",
		Short: "write a freshly generated signature into an existing LC_CODE_SIGNATURE region",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := g.signOptions()
			if err != nil {
				return err
			}
			blobs, err := codesign.Generate(cmd.Context(), g.file, opts)
			if err != nil {
				return err
			}
			return codesign.Inject(g.file, blobs)
		},
	}
}
