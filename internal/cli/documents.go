package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"resumeunlocked/internal/api"
	"resumeunlocked/internal/common"
	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/storage"
	"resumeunlocked/internal/types"
	"resumeunlocked/internal/utils"
)

func newLatexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "latex",
		Short: "Compile LaTeX resumes",
	}
	cmd.AddCommand(newLatexCompileCmd(), newLatexTemplateCmd())
	return cmd
}

func newLatexCompileCmd() *cobra.Command {
	var flags outputFlags

	cmd := &cobra.Command{
		Use:   "compile [tex-file]",
		Short: "Compile a LaTeX file and print where the PDF can be fetched",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				email, err := s.email()
				if err != nil {
					return err
				}
				content, err := common.NewFileProcessor(s.logger).ReadFile(args[0], s.cfg.App.MaxFileSize)
				if err != nil {
					return err
				}
				return common.RunAndOutput(ctx, s.out, s.withDefaults(flags), func(ctx context.Context) (string, error) {
					res, err := s.client.CompileLatex(ctx, email, string(content))
					if err != nil {
						return "", err
					}
					return res.PDFURL + "\n", nil
				})
			})
		},
	}
	addOutputFlags(cmd, &flags)
	return cmd
}

func newLatexTemplateCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Print the starter LaTeX template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return common.RunAndOutput(ctx, s.out, outputFlags{OutputFile: output, OutputFormat: "text"}, func(ctx context.Context) (string, error) {
					tpl, err := s.client.DefaultLatexTemplate(ctx)
					if err != nil {
						return "", err
					}
					return tpl.Content, nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the template to a file instead of stdout")
	return cmd
}

// generateFlags are shared by the document generation commands
type generateFlags struct {
	format   string
	template string
	output   string
}

func (g *generateFlags) register(cmd *cobra.Command, withTemplate bool) {
	cmd.Flags().StringVar(&g.format, "doc-format", "pdf", "Document format: pdf or docx")
	cmd.Flags().StringVarP(&g.output, "output", "o", "", "Output file (default: name chosen by the server)")
	if withTemplate {
		cmd.Flags().StringVarP(&g.template, "template", "t", "", "Fill this template file instead of the built-in layout")
	}
}

func (g *generateFlags) validate() error {
	switch g.format {
	case "pdf", "docx":
		return nil
	}
	return errors.NewValidationError(errors.ErrCodeInvalidFormat,
		fmt.Sprintf("unsupported document format %q (use pdf or docx)", g.format), nil)
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Render your profile as a document",
	}
	cmd.AddCommand(
		newGenerateDocCmd("standard", "Generate a resume document", false),
		newGenerateDocCmd("preview", "Render an HTML preview of a resume", true),
		newGenerateFromTemplateCmd(),
		newGenerateTemplatesCmd(),
	)
	return cmd
}

func newGenerateDocCmd(use, short string, preview bool) *cobra.Command {
	var g generateFlags

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.validate(); err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				email, err := s.email()
				if err != nil {
					return err
				}
				req := types.GenerateRequest{Email: email, Format: g.format}

				var doc *types.Document
				if g.template != "" {
					tpl, err := readTemplate(s, g.template)
					if err != nil {
						return err
					}
					if preview {
						doc, err = s.client.PreviewResume(ctx, tpl, req)
					} else {
						doc, err = s.client.GenerateResume(ctx, tpl, req)
					}
					if err != nil {
						return err
					}
				} else {
					if preview {
						doc, err = s.client.PreviewStandardResume(ctx, req)
					} else {
						doc, err = s.client.GenerateStandardResume(ctx, req)
					}
					if err != nil {
						return err
					}
				}
				return s.writeDocument(cmd, doc, g.output)
			})
		},
	}
	g.register(cmd, true)
	return cmd
}

func readTemplate(s *session, path string) (types.UploadFile, error) {
	if !utils.IsTemplateFile(path) {
		s.logger.Warn("Template file type is not one the backend usually accepts", "file", path)
	}
	return common.NewFileProcessor(s.logger).ReadUpload(path, s.cfg.App.MaxFileSize)
}

func newGenerateFromTemplateCmd() *cobra.Command {
	var g generateFlags

	cmd := &cobra.Command{
		Use:   "from-template [template-id]",
		Short: "Render your profile with a saved template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.validate(); err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				email, err := s.email()
				if err != nil {
					return err
				}
				doc, err := s.client.GenerateFromTemplate(ctx, types.GenerateRequest{Email: email, Format: g.format, TemplateID: args[0]})
				if err != nil {
					return err
				}
				return s.writeDocument(cmd, doc, g.output)
			})
		},
	}
	g.register(cmd, false)
	return cmd
}

func newGenerateTemplatesCmd() *cobra.Command {
	var flags outputFlags

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List your saved templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				email, err := s.email()
				if err != nil {
					return err
				}
				return common.RunAndOutput(ctx, s.out, s.withDefaults(flags), func(ctx context.Context) ([]types.Template, error) {
					return s.client.Templates(ctx, email)
				})
			})
		},
	}
	addOutputFlags(cmd, &flags)
	return cmd
}

func newLinkCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "link [code]",
		Short: "Download a shared resume by its public link code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfigFromContext(cmd.Context())
			logger := getLoggerFromContext(cmd.Context())

			// Public links need no session
			client := api.NewClient(cfg.API, storage.NewMemoryStore(), logger)
			doc, err := client.ResolveLink(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" && doc.Filename == "" {
				output = args[0] + doc.Extension()
			}
			target, err := common.NewOutputHandler(logger).HandleDocument(doc, output)
			if err != nil {
				return err
			}
			cmd.PrintErrf("Saved %s (%s)\n", target, utils.FormatFileSize(int64(len(doc.Data))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: <code>.html)")
	return cmd
}
