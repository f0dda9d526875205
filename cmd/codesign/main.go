// Command codesign is a drop-in-compatible surface for the subset of
// Apple's codesign(1) this system implements: ad-hoc signing (identity
// "-" only), forced re-signing, entitlements, verification and
// signature removal.
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

type options struct {
	identity         string
	identifier       string
	force            bool
	entitlementsPath string
	verify           bool
	removeSignature  bool
	debug            bool
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
			Output: log.New(os.Stderr, "codesign: ", log.StdFlags, nil),
		})
	})
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:           "codesign [files...]",
		Short:         "ad-hoc sign, verify or strip Mach-O code signatures",
		Args:          cobra.MinimumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging(opts.debug)
			return run(cmd.Context(), opts, args)
		},
	}

	root.Flags().StringVarP(&opts.identity, "sign", "s", "", "signing `identity`; only \"-\" (ad-hoc) is supported")
	root.Flags().StringVarP(&opts.identifier, "identifier", "i", "", "code signing `identifier`")
	root.Flags().BoolVarP(&opts.force, "force", "f", false, "replace any existing signature")
	root.Flags().StringVar(&opts.entitlementsPath, "entitlements", "", "`path` to an entitlements plist")
	root.Flags().BoolVarP(&opts.verify, "verify", "v", false, "verify instead of signing")
	root.Flags().BoolVar(&opts.removeSignature, "remove-signature", false, "remove any existing signature")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "show debugging output")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		initLogging(opts.debug)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, files []string) error {
	if opts.removeSignature {
		for _, f := range files {
			if err := codesign.RemoveSignature(ctx, f); err != nil {
				return err
			}
		}
		return nil
	}

	if opts.verify {
		ok := true
		for _, f := range files {
			verified, err := codesign.VerifySignature(f)
			if err != nil {
				return err
			}
			if !verified {
				ok = false
				fmt.Fprintf(os.Stderr, "%s: code object is not signed at all\n", f)
			}
		}
		if !ok {
			os.Exit(1)
		}
		return nil
	}

	if opts.identity == "" {
		return fmt.Errorf("-s is required")
	}
	if opts.identity != "-" {
		return fmt.Errorf("only ad-hoc signing (-s -) is supported")
	}

	var entitlements []byte
	if opts.entitlementsPath != "" {
		b, err := os.ReadFile(opts.entitlementsPath)
		if err != nil {
			return fmt.Errorf("read entitlements %s: %w", opts.entitlementsPath, err)
		}
		entitlements = b
	}

	signOpts := codesign.SignOptions{
		Identifier:   opts.identifier,
		Entitlements: entitlements,
		Force:        opts.force,
	}

	for _, f := range files {
		if err := codesign.Codesign(ctx, f, signOpts); err != nil {
			return err
		}
	}
	return nil
}
