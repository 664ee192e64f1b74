package cli

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"resumeunlocked/internal/common"
	"resumeunlocked/internal/types"
)

func newDraftsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Manage saved LaTeX drafts",
	}
	cmd.AddCommand(newDraftsListCmd(), newDraftsGetCmd(), newDraftsSaveCmd(), newDraftsDeleteCmd())
	return cmd
}

func newDraftsListCmd() *cobra.Command {
	var flags outputFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your drafts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				email, err := s.email()
				if err != nil {
					return err
				}
				return common.RunAndOutput(ctx, s.out, s.withDefaults(flags), func(ctx context.Context) (types.DraftList, error) {
					drafts, err := s.client.ListDrafts(ctx, email)
					return types.DraftList{Email: email, Drafts: drafts}, err
				})
			})
		},
	}
	addOutputFlags(cmd, &flags)
	return cmd
}

func newDraftsGetCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get [draft-id]",
		Short: "Print a draft's LaTeX source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return common.RunAndOutput(ctx, s.out, outputFlags{OutputFile: output, OutputFormat: "text"}, func(ctx context.Context) (string, error) {
					draft, err := s.client.GetDraft(ctx, args[0])
					if err != nil {
						return "", err
					}
					return draft.Content, nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the source to a file instead of stdout")
	return cmd
}

func newDraftsSaveCmd() *cobra.Command {
	var (
		id    string
		name  string
		flags outputFlags
	)

	cmd := &cobra.Command{
		Use:   "save [tex-file]",
		Short: "Save a LaTeX file as a draft",
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
				if name == "" {
					name = draftName(args[0])
				}
				return common.RunAndOutput(ctx, s.out, s.withDefaults(flags), func(ctx context.Context) (*types.Draft, error) {
					return s.client.SaveDraft(ctx, types.Draft{ID: id, Email: email, Name: name, Content: string(content)})
				})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Overwrite an existing draft")
	cmd.Flags().StringVar(&name, "name", "", "Draft name (default: file name plus a short unique suffix)")
	addOutputFlags(cmd, &flags)
	return cmd
}

// draftName derives a readable, unique name from the source file
func draftName(file string) string {
	base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	return base + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

func newDraftsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [draft-id]",
		Short: "Delete a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.client.DeleteDraft(ctx, args[0]); err != nil {
					return err
				}
				cmd.Printf("Deleted draft %s.\n", args[0])
				return nil
			})
		},
	}
}
