package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"lms-realtime/api"
	"lms-realtime/app"
	"lms-realtime/boundary"
	"lms-realtime/commands"
	"lms-realtime/models"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	isTerminalFunc   = term.IsTerminal   // mockable

	errQuit = errors.New("quit requested")
)

type commandLine struct {
	app *app.App
	in  *bufio.Scanner
	fd  int

	mu  sync.Mutex // guards out; pushes print from the socket goroutine
	out io.Writer
}

func newCommandLine(a *app.App, in io.Reader, out io.Writer, fd int) *commandLine {
	cli := &commandLine{app: a, in: bufio.NewScanner(in), out: out, fd: fd}
	a.Realtime.OnMessage(cli.showPush)
	a.Realtime.OnNotification(cli.showNotification)
	return cli
}

func (cli *commandLine) printf(format string, args ...interface{}) {
	cli.mu.Lock()
	defer cli.mu.Unlock()
	fmt.Fprintf(cli.out, format, args...)
}

func (cli *commandLine) printUsage() {
	cli.printf("Commands:\n")
	cli.printf("  /rooms              - list rooms and unread counts\n")
	cli.printf("  /join ROOM          - switch the active room\n")
	cli.printf("  /history            - show the active room's messages\n")
	cli.printf("  /who                - show who is online\n")
	cli.printf("  /read               - mark the active room read\n")
	cli.printf("  /notifications      - fetch and list notifications\n")
	cli.printf("  /markread ID        - mark one notification read\n")
	cli.printf("  /readall            - mark every notification read\n")
	cli.printf("  /verify ID          - verify a certificate\n")
	cli.printf("  /login, /logout     - start or end the session\n")
	cli.printf("  /reload, /home      - recover after an error\n")
	cli.printf("  /quit               - exit\n")
	cli.printf("Anything else is sent to the active room.\n")
}

// promptToken asks for a bearer token, hidden when stdin is a terminal.
func (cli *commandLine) promptToken() (string, error) {
	cli.printf("Enter access token:")
	if isTerminalFunc(cli.fd) {
		tok, err := readPasswordFunc(cli.fd)
		cli.printf("\n")
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(tok)), nil
	}
	if !cli.in.Scan() {
		if err := cli.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(cli.in.Text()), nil
}

func (cli *commandLine) login(ctx context.Context) error {
	tok, err := cli.promptToken()
	if err != nil {
		return err
	}
	if err := cli.app.Login(ctx, tok); err != nil {
		// loading may degrade; only a refused token is a failed login
		if cli.app.Session.Current() == nil {
			cli.printf("Login failed: %v\n", err)
			return nil
		}
		cli.printf("Some data could not be loaded: %v\n", err)
	}
	cli.printWelcome()
	return nil
}

func (cli *commandLine) printWelcome() {
	sess := cli.app.Session.Current()
	if sess == nil {
		return
	}
	cli.printf("Logged in as %s (%s). Type /help for commands.\n", sess.User.Name, sess.User.Role)
	cli.showHistory()
}

func (cli *commandLine) prompt() string {
	ctx := &commands.Context{Unread: cli.app.Notifications.UnreadCount()}
	if sess := cli.app.Session.Current(); sess != nil {
		ctx.UserID = sess.User.ID.String()
		ctx.UserName = sess.User.Name
		ctx.Role = sess.User.Role
	}
	st := cli.app.Chat.Snapshot()
	ctx.ChannelID = st.Active
	ctx.ChannelName = st.Active
	if ch, ok := st.Channel(st.Active); ok && ch.Name != "" {
		ctx.ChannelName = ch.Name
	}
	return commands.Render(cli.app.Config.Prompt, ctx)
}

// loop reads commands until EOF or /quit.
func (cli *commandLine) loop(ctx context.Context) error {
	for {
		cli.printf("%s", cli.prompt())
		if !cli.in.Scan() {
			return cli.in.Err()
		}
		if err := cli.handle(ctx, cli.in.Text()); err != nil {
			if err == errQuit {
				return nil
			}
			return err
		}
	}
}

func (cli *commandLine) handle(ctx context.Context, line string) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	cmd := commands.Parse(line)
	guard := cli.app.Guard

	switch cmd.Name {
	case "quit", "exit":
		return errQuit
	case "reload":
		cli.showState(guard.Reload(ctx))
		return nil
	case "home":
		guard.ResetToHome()
		if cli.app.Session.Current() != nil {
			if err := cli.app.Bootstrap(ctx); err != nil {
				cli.printf("Some data could not be loaded: %v\n", err)
			}
		}
		cli.printf("Back home.\n")
		return nil
	}

	var quit bool
	st, err := guard.Run(ctx, func(ctx context.Context) error {
		err := cli.dispatch(ctx, cmd)
		if err == errQuit {
			quit = true
			return nil
		}
		return err
	})
	if errors.Is(err, boundary.ErrBlocked) {
		cli.printf("Something went wrong earlier. Use /reload to retry or /home to start over.\n")
		return nil
	}
	if quit {
		return errQuit
	}
	cli.showState(st)
	return nil
}

func (cli *commandLine) showState(st boundary.State) {
	switch st.Status {
	case boundary.NotFound:
		cli.printf("Not found.\n")
	case boundary.Errored:
		cli.printf("Something went wrong (%s). Use /reload to retry or /home to start over.\n", st.Kind)
	}
}

// dispatch runs one command. Recoverable failures are printed here and
// swallowed; returned errors go to the boundary.
func (cli *commandLine) dispatch(ctx context.Context, cmd commands.Command) error {
	if cmd.Name == "help" {
		cli.printUsage()
		return nil
	}
	if cmd.Name == "login" {
		return cli.login(ctx)
	}
	if cli.app.Session.Current() == nil {
		cli.printf("Not logged in. Use /login.\n")
		return nil
	}

	a := cli.app
	switch cmd.Name {
	case "":
		err := a.Chat.SendMessage(ctx, a.Chat.Active(), cmd.Rest)
		if err != nil {
			cli.printf("Message not sent: %v\n", err)
		}
	case "rooms":
		st := a.Chat.Snapshot()
		for _, ch := range st.Channels {
			marker := " "
			if ch.ID == st.Active {
				marker = "*"
			}
			cli.printf("%s %-14s %s", marker, ch.ID, ch.Name)
			if ch.UnreadCount > 0 {
				cli.printf(" (%d unread)", ch.UnreadCount)
			}
			cli.printf("\n")
		}
	case "join":
		if cmd.Arg(0) == "" {
			cli.printf("Usage: /join ROOM\n")
			return nil
		}
		active, err := a.SwitchRoom(ctx, cmd.Arg(0))
		if err != nil {
			cli.printf("History for %s could not be loaded: %v\n", active, err)
		}
		cli.showHistory()
	case "history":
		cli.showHistory()
	case "who":
		for _, p := range a.Chat.Snapshot().Online {
			cli.printf("  %s (%s)\n", p.UserName, p.Status)
		}
	case "read":
		a.Chat.MarkRead(ctx, a.Chat.Active())
	case "notifications":
		if err := a.Notifications.Refresh(ctx); err != nil {
			cli.printf("Notifications could not be loaded: %v\n", err)
		}
		st := a.Notifications.Snapshot()
		cli.printf("%d unread\n", st.UnreadCount)
		for _, n := range st.Notifications {
			cli.printNotification(n)
		}
	case "markread":
		if cmd.Arg(0) == "" {
			cli.printf("Usage: /markread ID\n")
			return nil
		}
		a.Notifications.MarkAsRead(models.ID(cmd.Arg(0)))
	case "readall":
		a.Notifications.MarkAllAsRead()
		cli.printf("All notifications marked read.\n")
	case "verify":
		if cmd.Arg(0) == "" {
			cli.printf("Usage: /verify ID\n")
			return nil
		}
		cert, err := a.API.VerifyCertificate(ctx, cmd.Arg(0))
		if err != nil {
			if api.Classify(err) == api.KindTransport {
				cli.printf("Certificate service unavailable: %v\n", err)
				return nil
			}
			return err
		}
		cli.printf("Certificate %s: %s completed %q on %s\n",
			cert.ID, cert.StudentName, cert.CourseTitle, cert.IssuedAt.Format("2006-01-02"))
	case "logout":
		a.Logout()
		cli.printf("Logged out.\n")
	default:
		cli.printf("Unknown command /%s. Type /help.\n", cmd.Name)
	}
	return nil
}

func (cli *commandLine) showHistory() {
	st := cli.app.Chat.Snapshot()
	for _, m := range st.Messages {
		cli.printMessage(m)
	}
}

func (cli *commandLine) printMessage(m models.Message) {
	pending := ""
	if m.Optimistic() {
		pending = " (sending)"
	}
	cli.printf("%s %s: %s%s\n", m.CreatedAt.Local().Format("15:04"), m.UserName, m.Body, pending)
}

func (cli *commandLine) printNotification(n models.Notification) {
	mark := " "
	if !n.IsRead {
		mark = "•"
	}
	cli.printf("%s [%s] %s  %s\n", mark, n.ID, n.Subject, n.SentAt.Local().Format("2006-01-02 15:04"))
}

func (cli *commandLine) showPush(m models.Message) {
	if cli.app.Session.UserID() == m.UserID {
		return
	}
	if m.RoomID == cli.app.Chat.Active() {
		cli.printf("\n")
		cli.printMessage(m)
		return
	}
	cli.printf("\n(new message in %s)\n", m.RoomID)
}

func (cli *commandLine) showNotification(n models.Notification) {
	cli.printf("\n🔔 %s\n", n.Subject)
}

// stdinFD is the descriptor used for the hidden token prompt.
func stdinFD() int {
	return int(os.Stdin.Fd())
}
