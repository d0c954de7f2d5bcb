package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/modoterra/vrcguard/pkg/directory/vrchat"
)

var (
	loginUsername string
	loginAPIURL   string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to VRChat and save the session cookie",
	Long:  "Prompts for the password and, when enabled on the account, an email or authenticator code. The session is written to vrchat.cookie_file.",
	RunE:  runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "VRChat username or email (default vrchat.username)")
	loginCmd.Flags().StringVar(&loginAPIURL, "api-url", vrchat.DefaultBaseURL, "VRChat API base URL")
	_ = loginCmd.Flags().MarkHidden("api-url")
}

// prompter reads answers from the terminal, hiding secrets when stdin is one.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd, p.tty = int(f.Fd()), true
	}
	return p
}

func (p *prompter) line(label string) (string, error) {
	fmt.Fprint(p.out, label)
	s, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.TrimSpace(label), ":"), err)
	}
	return strings.TrimSpace(s), nil
}

func (p *prompter) secret(label string) (string, error) {
	if !p.tty {
		return p.line(label)
	}
	fmt.Fprint(p.out, label)
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	s, err := settings()
	if err != nil {
		return err
	}
	cfg := s.Config
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	p := newPrompter(cmd.InOrStdin(), out)

	username := loginUsername
	if username == "" {
		username = cfg.VRChat.Username
	}
	if username == "" {
		if username, err = p.line("Username: "); err != nil {
			return err
		}
	}
	password, err := p.secret("Password: ")
	if err != nil {
		return err
	}

	client, err := vrchat.New(vrchat.Options{BaseURL: loginAPIURL, UserAgent: cfg.VRChat.UserAgent})
	if err != nil {
		return err
	}

	me, err := client.Login(ctx, username, password)
	var tfa *vrchat.TwoFactorError
	if errors.As(err, &tfa) {
		method := tfa.PreferredMethod()
		label := "Authenticator code: "
		if method == vrchat.MethodEmailOTP {
			label = "Email code: "
		}
		code, perr := p.line(label)
		if perr != nil {
			return perr
		}
		if err := client.VerifyTwoFactor(ctx, method, code); err != nil {
			return err
		}
		me, err = client.CurrentUser(ctx)
	}
	if err != nil {
		return err
	}

	path := cfg.VRChat.CookieFile
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := client.SaveCookies(path); err != nil {
		return err
	}
	fmt.Fprintf(out, "logged in as %s (%s) ✓\nsession saved to %s\n", me.DisplayName, me.ID, path)
	return nil
}
