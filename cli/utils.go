package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// samePath returns true if abs(path1) and abs(path2) are the same.
func samePath(path1, path2 string) (bool, error) {
	abs1, err := filepath.Abs(path1)
	if err != nil {
		return false, err
	}
	abs2, err := filepath.Abs(path2)
	if err != nil {
		return false, err
	}
	return abs1 == abs2, nil
}

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, "Warning: "+format+"\n", a...)
}

// parseStructFromCtx fills a T from the command's own flags. Fields are matched through their
// `flag` tag, which holds the flag's primary name.
func parseStructFromCtx[T any](c *cli.Context) (T, error) {
	var out T
	values := make(map[string]interface{}, len(c.Command.Flags))
	for _, f := range c.Command.Flags {
		name := f.Names()[0]
		values[name] = c.Value(name)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "flag",
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(values); err != nil {
		return out, errors.Wrapf(err, "cannot parse flags of %q", c.Command.Name)
	}
	return out, nil
}

// createCommandWithT wraps an action taking typed arguments into a cli.ActionFunc.
func createCommandWithT[T any](f func(*cli.Context, T) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		args, err := parseStructFromCtx[T](c)
		if err != nil {
			return err
		}
		return f(c, args)
	}
}

// requireArgs returns the first n positional arguments or a usage error naming them.
func requireArgs(c *cli.Context, names ...string) ([]string, error) {
	if c.Args().Len() != len(names) {
		return nil, errors.Errorf("%s expects %d argument(s) %v, got %d", c.Command.Name, len(names), names, c.Args().Len())
	}
	return c.Args().Slice(), nil
}
