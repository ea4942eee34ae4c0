package cli

import (
	"flag"
	"testing"

	"github.com/urfave/cli/v2"
	"go.viam.com/test"
)

func TestSamePath(t *testing.T) {
	equal, _ := samePath("/x", "/x")
	test.That(t, equal, test.ShouldBeTrue)
	equal, _ = samePath("/x", "x")
	test.That(t, equal, test.ShouldBeFalse)
	equal, _ = samePath("/x/y/../z", "/x/z")
	test.That(t, equal, test.ShouldBeTrue)
}

func TestParseStructFromCtx(t *testing.T) {
	type args struct {
		Width    int     `flag:"width"`
		Near     float64 `flag:"near"`
		Encoding string  `flag:"encoding"`
		Lenient  bool    `flag:"lenient"`
	}
	var parsed args
	var parseErr error
	testApp := &cli.App{
		Name: "questgear",
		Commands: []*cli.Command{{
			Name: "test",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "width"},
				&cli.Float64Flag{Name: "near", Value: 0.1},
				&cli.StringFlag{Name: "encoding", Aliases: []string{"e"}},
				&cli.BoolFlag{Name: "lenient"},
			},
			Action: func(c *cli.Context) error {
				parsed, parseErr = parseStructFromCtx[args](c)
				return parseErr
			},
		}},
	}
	err := testApp.Run([]string{"questgear", "test", "--width", "64", "-e", "png16", "--lenient"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parseErr, test.ShouldBeNil)
	test.That(t, parsed, test.ShouldResemble, args{Width: 64, Near: 0.1, Encoding: "png16", Lenient: true})
}

func TestRequireArgs(t *testing.T) {
	set := flag.NewFlagSet("test", 0)
	test.That(t, set.Parse([]string{"a", "b"}), test.ShouldBeNil)
	ctx := cli.NewContext(app, set, nil)
	ctx.Command = &cli.Command{Name: "compare-meshes"}

	got, err := requireArgs(ctx, "a.ply", "b.ply")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, []string{"a", "b"})

	_, err = requireArgs(ctx, "capture-root")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expects 1 argument")
}
