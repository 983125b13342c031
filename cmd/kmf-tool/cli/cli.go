package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/ctl"
	"github.com/effective-security/xkmf"
	"github.com/effective-security/xkmf/kmf"
	"github.com/effective-security/xkmf/plugin"
	"github.com/effective-security/xlog"

	// keystore loaders
	_ "github.com/effective-security/xkmf/backend/awskms"
	_ "github.com/effective-security/xkmf/backend/dbstore"
	_ "github.com/effective-security/xkmf/backend/filestore"
	_ "github.com/effective-security/xkmf/backend/gcpkms"
	_ "github.com/effective-security/xkmf/backend/pkcs11store"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/xkmf", "cli")

// Cli provides CLI context to run commands
type Cli struct {
	Version ctl.VersionFlag `name:"version" help:"Print version information and quit" hidden:""`

	Cfg      string `help:"Location of the keystores config file" type:"path"`
	Debug    bool   `short:"D" help:"Enable debug mode"`
	LogLevel string `short:"l" help:"Set the logging level (debug|info|warn|error)" default:"error"`

	// Stdin is the source to read from, typically set to os.Stdin
	stdin io.Reader
	// Output is the destination for all output from the command, typically set to os.Stdout
	output io.Writer
	// ErrOutput is the destinaton for errors.
	// If not set, errors will be written to os.StdError
	errOutput io.Writer

	ctx    context.Context
	handle *kmf.Handle
}

// Context for requests
func (c *Cli) Context() context.Context {
	if c.ctx == nil {
		c.ctx = context.Background()
	}
	return c.ctx
}

// Reader is the source to read from, typically set to os.Stdin
func (c *Cli) Reader() io.Reader {
	if c.stdin != nil {
		return c.stdin
	}
	return os.Stdin
}

// WithReader allows to specify a custom reader
func (c *Cli) WithReader(reader io.Reader) *Cli {
	c.stdin = reader
	return c
}

// Writer returns a writer for control output
func (c *Cli) Writer() io.Writer {
	if c.output != nil {
		return c.output
	}
	return os.Stdout
}

// WithWriter allows to specify a custom writer
func (c *Cli) WithWriter(out io.Writer) *Cli {
	c.output = out
	return c
}

// ErrWriter returns a writer for control output
func (c *Cli) ErrWriter() io.Writer {
	if c.errOutput != nil {
		return c.errOutput
	}
	return os.Stderr
}

// WithErrWriter allows to specify a custom error writer
func (c *Cli) WithErrWriter(out io.Writer) *Cli {
	c.errOutput = out
	return c
}

// WithHandle allows to specify the engine handle instead of --cfg
func (c *Cli) WithHandle(h *kmf.Handle) *Cli {
	c.handle = h
	return c
}

// AfterApply hook sets the log level
func (c *Cli) AfterApply(_ *kong.Kong, _ kong.Vars) error {
	if c.Debug {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
		return nil
	}
	l, err := xlog.ParseLevel(strings.ToUpper(strings.TrimLeft(c.LogLevel, "=")))
	if err != nil {
		return errors.WithStack(err)
	}
	xlog.SetGlobalLogLevel(l)
	return nil
}

// Handle returns the engine handle, loading the keystores
// from the --cfg file on first use
func (c *Cli) Handle() (*kmf.Handle, error) {
	if c.handle != nil {
		return c.handle, nil
	}
	if c.Cfg == "" {
		return nil, errors.WithMessage(xkmf.ErrBadParameter, "use --cfg flag to specify keystores config file")
	}
	reg, err := plugin.Load(c.Cfg)
	if err != nil {
		return nil, errors.WithMessage(err, "unable to load keystores")
	}
	h, err := kmf.New(reg)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}
	logger.KV(xlog.DEBUG, "cfg", c.Cfg, "keystores", reg.Types())
	c.handle = h
	return h, nil
}

// Close releases the engine handle
func (c *Cli) Close() error {
	if c.handle == nil {
		return nil
	}
	err := c.handle.Close()
	c.handle = nil
	return err
}

// ReadFile reads from stdin if the file is "-"
func (c *Cli) ReadFile(filename string) ([]byte, error) {
	if filename == "" {
		return nil, errors.WithMessage(xkmf.ErrBadParameter, "empty file name")
	}
	if filename == "-" {
		return io.ReadAll(c.Reader())
	}
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Mark(errors.WithStack(err), xkmf.ErrOpenFile)
	}
	return b, nil
}

// WriteJSON prints response to out
func (c *Cli) WriteJSON(value any) error {
	enc := json.NewEncoder(c.Writer())
	enc.SetIndent("", "  ")
	return errors.WithStack(enc.Encode(value))
}

// Printf prints to out
func (c *Cli) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.Writer(), format, args...)
}
