package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/neurodesk/jinjapreview/pkg/datasource"
	"github.com/neurodesk/jinjapreview/pkg/jinja2"
	"github.com/neurodesk/jinjapreview/pkg/starlark"
	"github.com/neurodesk/jinjapreview/pkg/templates"
	"github.com/spf13/cobra"
)

var configPath string
var verbose bool
var logLevel string

var rootCmd = cobra.Command{
	Use:           "jinjapreview",
	Short:         "Render and inspect Jinja-style templates",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	renderData    []string
	renderVars    []string
	renderBuiltin string
	renderOut     string
)

var renderCmd = cobra.Command{
	Use:   "render [template|-]",
	Short: "Render a template against data files, URLs or Starlark scripts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadPreviewConfig(cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}

		var src string
		ctx := jinja2.Context{}
		if renderBuiltin != "" {
			if len(args) > 0 {
				return fmt.Errorf("--builtin cannot be combined with a template argument")
			}
			b, err := templates.Get(renderBuiltin)
			if err != nil {
				return err
			}
			src = string(b.Template)
			if ctx, err = b.Context(); err != nil {
				return err
			}
		} else {
			if src, err = readTemplate(cmd.InOrStdin(), args); err != nil {
				return err
			}
		}

		loader := &datasource.Loader{
			Cache:  cfg.cache(slog.Default()),
			Stdin:  cmd.InOrStdin(),
			Logger: slog.Default(),
		}
		data, err := loader.Load(cmd.Context(), renderData...)
		if err != nil {
			return err
		}
		for k, val := range data {
			ctx[k] = val
		}
		if err := applyVars(ctx, renderVars); err != nil {
			return err
		}

		out := cfg.renderer(slog.Default()).Render(src, ctx)
		return writeOutput(cmd.OutOrStdout(), renderOut, out)
	},
}

var (
	highlightStyles bool
	highlightOut    string
)

var highlightCmd = cobra.Command{
	Use:   "highlight [template|-]",
	Short: "Wrap every template directive in a highlighting span",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadPreviewConfig(cmd.Flags().Changed("config")); err != nil {
			return err
		}
		src, err := readTemplate(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		out := jinja2.Highlight(src)
		if highlightStyles {
			out = jinja2.InjectStyles(out)
		}
		return writeOutput(cmd.OutOrStdout(), highlightOut, out)
	},
}

var checkTree bool

var checkCmd = cobra.Command{
	Use:   "check [template|-]",
	Short: "Report template constructs that would be left unrendered",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadPreviewConfig(cmd.Flags().Changed("config")); err != nil {
			return err
		}
		src, err := readTemplate(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		doc := jinja2.Parse(src)
		w := cmd.OutOrStdout()
		if checkTree {
			fmt.Fprint(w, jinja2.Pretty(doc))
		}
		for _, p := range doc.Problems {
			line, col := jinja2.Position(src, p.Offset)
			fmt.Fprintf(w, "%d:%d: %s\n", line, col, p.Message)
		}
		if n := len(doc.Problems); n > 0 {
			return fmt.Errorf("%d problem(s) found", n)
		}
		return nil
	},
}

var builtinsCmd = cobra.Command{
	Use:   "builtins",
	Short: "List the built-in templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadPreviewConfig(cmd.Flags().Changed("config")); err != nil {
			return err
		}
		for _, name := range templates.Names() {
			b, err := templates.Get(name)
			if err != nil {
				slog.Warn("skipping template", "name", name, "error", err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, b.Description)
		}
		return nil
	},
}

// readTemplate returns the template named by args, reading stdin when it
// is "-" or absent.
func readTemplate(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading template from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("reading template: %w", err)
	}
	return string(data), nil
}

// applyVars evaluates each NAME=EXPR as a Starlark expression that sees
// the current context, and stores the result under NAME.
func applyVars(ctx jinja2.Context, vars []string) error {
	for _, kv := range vars {
		name, expr, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return fmt.Errorf("invalid --var %q: expected NAME=EXPR", kv)
		}
		ev := starlark.NewEvaluator(slog.Default())
		ev.LoadContext(ctx)
		val, err := ev.Eval(expr)
		if err != nil {
			return fmt.Errorf("evaluating --var %s: %w", name, err)
		}
		ctx[name] = val
	}
	return nil
}

func writeOutput(stdout io.Writer, path, content string) error {
	if path == "" || path == "-" {
		_, err := io.WriteString(stdout, content)
		return err
	}
	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	slog.Debug("wrote output", "path", path, "bytes", len(content))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")

	renderCmd.Flags().StringArrayVarP(&renderData, "data", "d", nil, "Data source: JSON/YAML file, .star script, http(s) URL or - for stdin (repeatable, later wins)")
	renderCmd.Flags().StringArrayVar(&renderVars, "var", nil, "Set NAME=EXPR where EXPR is a Starlark expression (repeatable)")
	renderCmd.Flags().StringVar(&renderBuiltin, "builtin", "", "Render a built-in template with its sample data")
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "", "Write output to a file instead of stdout")
	rootCmd.AddCommand(&renderCmd)

	highlightCmd.Flags().BoolVar(&highlightStyles, "styles", false, "Inject the highlighting stylesheet")
	highlightCmd.Flags().StringVarP(&highlightOut, "out", "o", "", "Write output to a file instead of stdout")
	rootCmd.AddCommand(&highlightCmd)

	checkCmd.Flags().BoolVar(&checkTree, "tree", false, "Print the parsed template tree")
	rootCmd.AddCommand(&checkCmd)

	rootCmd.AddCommand(&builtinsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
