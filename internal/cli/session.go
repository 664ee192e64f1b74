package cli

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"resumeunlocked/internal/api"
	"resumeunlocked/internal/common"
	"resumeunlocked/internal/config"
	"resumeunlocked/internal/errors"
	"resumeunlocked/internal/identity"
	"resumeunlocked/internal/navigator"
	"resumeunlocked/internal/storage"
	"resumeunlocked/internal/types"
	"resumeunlocked/internal/viewstate"
)

// outputFlags are the --output/--format pair shared by commands
type outputFlags = common.CommandConfig

// session is one CLI invocation's view of the persisted session
type session struct {
	cfg      *config.Config
	logger   *errors.Logger
	store    *storage.FileStore
	history  *viewstate.MemoryHistory
	histFile *storage.FileStore
	client   *api.Client
	identity identity.Provider
	nav      *navigator.Navigator
	out      *common.OutputHandler
}

// openSession loads storage and history, restores the navigator and runs
// the profile gate for a saved identity
func openSession(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()
	cfg := getConfigFromContext(ctx)
	logger := getLoggerFromContext(ctx)

	if err := os.MkdirAll(cfg.State.Dir, 0700); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot create state directory", err).
			WithContext("dir", cfg.State.Dir)
	}

	s := &session{
		cfg:      cfg,
		logger:   logger,
		store:    storage.NewFileStore(cfg.StorageFile(), logger),
		histFile: storage.NewFileStore(cfg.HistoryFile(), logger),
		out:      common.NewOutputHandler(logger).WithWriter(cmd.OutOrStdout()),
	}

	history, err := viewstate.LoadHistory(ctx, s.histFile)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot load navigation history", err)
	}
	s.history = history

	provider, err := identity.New(ctx, cfg.Identity, storage.NewFileStore(cfg.IdentityFile(), logger), logger)
	if err != nil {
		return nil, err
	}
	s.identity = provider

	s.client = api.NewClient(cfg.API, s.store, logger)
	router := viewstate.NewRouter(s.store, history, logger)

	opts := []navigator.Option{navigator.WithLogger(logger)}
	if cfg.Identity.Provider == identity.ProviderOIDC {
		opts = append(opts, navigator.WithIdentityProvider(provider))
	}
	s.nav = navigator.New(cfg.Navigator, s.store, router, s.client, opts...)

	if err := s.nav.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// close persists history for the next invocation
func (s *session) close(ctx context.Context) error {
	if s.nav != nil {
		s.nav.Close()
	}
	if err := viewstate.SaveHistory(ctx, s.histFile, s.history); err != nil {
		return errors.NewIOError(errors.ErrCodeStorageFailed, "Cannot save navigation history", err)
	}
	return nil
}

// withSession opens a session, runs fn and always saves history
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	runErr := fn(cmd.Context(), s)
	if err := s.close(context.WithoutCancel(cmd.Context())); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// email returns the signed-in user's email or a not-authenticated error
func (s *session) email() (string, error) {
	st := s.nav.State()
	if st.Identity == nil || st.Identity.Email == "" {
		return "", errors.NewAuthError(errors.ErrCodeNotAuthenticated, "Not signed in; run \"resumeunlocked login\" first", nil)
	}
	return st.Identity.Email, nil
}

// status summarizes the navigator and the stored access token
func (s *session) status(ctx context.Context) types.SessionStatus {
	st := s.nav.State()
	out := types.SessionStatus{
		Identity:   st.Identity,
		AuthMethod: st.AuthMethod,
		Navigation: st.Navigation,
		Loading:    st.Loading,
	}

	token, err := storage.GetString(ctx, s.store, storage.KeyAccessToken)
	if err != nil || token == "" {
		return out
	}
	subject, expires := inspectToken(token)
	out.TokenSubject = subject
	if !expires.IsZero() {
		out.TokenExpiresAt = expires.UTC().Format(time.RFC3339)
		out.TokenExpired = time.Now().After(expires)
	}
	return out
}

// inspectToken reads subject and expiry from a bearer token without
// verifying it; the backend remains the authority
func inspectToken(token string) (string, time.Time) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", time.Time{}
	}
	subject, _ := claims.GetSubject()
	var expires time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expires = exp.Time
	}
	return subject, expires
}

// printStatus writes the session status in the requested format
func (s *session) printStatus(ctx context.Context, flags outputFlags) error {
	return s.out.HandleOutput(s.status(ctx), s.withDefaults(flags))
}

func (s *session) withDefaults(flags outputFlags) outputFlags {
	if flags.OutputFormat == "" {
		flags.OutputFormat = s.cfg.App.DefaultFormat
	}
	return flags
}

// writeDocument saves doc and reports where it went
func (s *session) writeDocument(cmd *cobra.Command, doc *types.Document, output string) error {
	target, err := s.out.HandleDocument(doc, output)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		abs = target
	}
	cmd.PrintErrf("Saved %s\n", abs)
	return nil
}
