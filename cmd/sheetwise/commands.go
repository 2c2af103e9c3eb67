package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/sheetwise"
	"github.com/ZanzyTHEbar/sheetwise/internal/flows"
	"github.com/ZanzyTHEbar/sheetwise/internal/formula"
	"github.com/ZanzyTHEbar/sheetwise/internal/recipes"
	"github.com/ZanzyTHEbar/sheetwise/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sc := c.cfg.Server
			if addr != "" {
				sc.Addr = addr
			}
			h := server.NewHandler(a.Service,
				server.WithRecipes(a.Recipes),
				server.WithFormulaAssistant(a.Formulas),
				server.WithMetrics(a.Resolver),
				server.WithLogger(c.logger.Named("http")),
				server.WithMaxBodyBytes(sc.MaxBodyBytes),
			)
			return server.Run(cmd.Context(), server.Config{
				Addr:            sc.Addr,
				ReadTimeout:     sc.ReadTimeout,
				WriteTimeout:    sc.WriteTimeout,
				ShutdownTimeout: sc.ShutdownTimeout,
			}, h)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newInterpretCmd(c *cli) *cobra.Command {
	var (
		asJSON  bool
		noCache bool
		sheets  []string
		headers []string
	)
	cmd := &cobra.Command{
		Use:   "interpret <request>",
		Short: "Interpret a request and print the plan",
		Example: `  sheetwise interpret "Remove duplicates from my data"
  sheetwise interpret --header "Full Name" "split full name into first and last name" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := flows.New(cmd.Context(), a.Service, a.Formulas, c.logger.Named("flows"))
			if err != nil {
				return err
			}
			result, err := f.Interpret(cmd.Context(), flows.InterpretInput{
				Text:    strings.Join(args, " "),
				Sheets:  sheets,
				Headers: headers,
				NoCache: noCache,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderResult(result))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw result as JSON")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the result cache")
	cmd.Flags().StringSliceVar(&sheets, "sheet", nil, "sheet name in the workbook (repeatable)")
	cmd.Flags().StringSliceVar(&headers, "header", nil, "column header in the workbook (repeatable)")
	return cmd
}

func newRecipesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipes",
		Short: "Browse the recipe catalog",
	}

	var category, search string
	list := &cobra.Command{
		Use:   "list",
		Short: "List recipes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := recipes.Load(c.cfg.Recipes.Dir)
			if err != nil {
				return err
			}
			var found []recipes.Recipe
			if search != "" {
				for _, r := range catalog.Search(search) {
					if category == "" || strings.EqualFold(r.Category, category) {
						found = append(found, r)
					}
				}
			} else {
				found = catalog.List(category)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderRecipeTable(found))
			return nil
		},
	}
	list.Flags().StringVar(&category, "category", "", "only list this category")
	list.Flags().StringVar(&search, "search", "", "match title, description or tags")

	var asJSON bool
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a recipe and its plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := recipes.Load(c.cfg.Recipes.Dir)
			if err != nil {
				return err
			}
			r, err := catalog.Get(args[0])
			if err != nil {
				return err
			}
			plan, err := r.Plan()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), server.RecipeDetail{Recipe: r, Plan: plan})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderRecipe(r, plan))
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print the recipe and plan as JSON")

	cmd.AddCommand(list, show)
	return cmd
}

func newValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan.json>",
		Short: "Validate a plan file (use - for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			plan, err := decodePlan(raw)
			if err != nil {
				return err
			}
			plan = sheetwise.NormalizePlan(plan)

			v := sheetwise.ValidatePlan(plan)
			checker := formula.NewChecker(c.cfg.Interpreter.ExtraFunctions...)
			issues := lintFormulas(checker, plan)

			fmt.Fprint(cmd.OutOrStdout(), renderValidation(plan, v, issues))
			if !v.Valid || len(issues) > 0 {
				return fmt.Errorf("plan is not valid")
			}
			return nil
		},
	}
}

func newFormulaCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "formula",
		Short: "Explain or modernize spreadsheet formulas",
	}

	run := func(modernize bool) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			f, err := flows.New(cmd.Context(), a.Service, a.Formulas, c.logger.Named("flows"))
			if err != nil {
				return err
			}
			input := strings.Join(args, " ")
			if modernize {
				m, err := f.Modernize(cmd.Context(), input)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderModernization(m))
				return nil
			}
			e, err := f.Explain(cmd.Context(), input)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), e.Explanation)
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "explain <formula>",
			Short: "Explain a formula in plain language",
			Args:  cobra.MinimumNArgs(1),
			RunE:  run(false),
		},
		&cobra.Command{
			Use:   "modernize <formula>",
			Short: "Suggest a modern equivalent of a formula",
			Args:  cobra.MinimumNArgs(1),
			RunE:  run(true),
		},
	)
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return raw, nil
}

// decodePlan accepts either a bare action array or an object with a "plan" field.
func decodePlan(raw []byte) (sheetwise.Plan, error) {
	trimmed := bytes.TrimSpace(raw)
	var plan sheetwise.Plan
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &plan); err != nil {
			return nil, fmt.Errorf("failed to parse plan: %w", err)
		}
		return plan, nil
	}
	var wrapped struct {
		Plan sheetwise.Plan `json:"plan"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	return wrapped.Plan, nil
}

// formulaIssue is a calculated-column formula the checker rejected.
type formulaIssue struct {
	Index   int
	Formula string
	Err     error
}

func lintFormulas(checker *formula.Checker, plan sheetwise.Plan) []formulaIssue {
	var issues []formulaIssue
	for i, a := range plan {
		p, ok := a.Params.(sheetwise.AddCalculatedColumnParams)
		if !ok || p.Formula == "" {
			continue
		}
		if err := checker.Check(p.Formula); err != nil {
			issues = append(issues, formulaIssue{Index: i, Formula: p.Formula, Err: err})
		}
	}
	return issues
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
