package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/park285/cube-duel/internal/cube"
	"github.com/park285/cube-duel/pkg/rounddto"
)

func NewScrambleCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		length int
		count  int
		remote bool
	)
	cmd := &cobra.Command{
		Use:           "scramble",
		Short:         "Generate random scrambles",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(rootOpts, cmd)
			if length <= 0 || count <= 0 {
				return out.Fail("scramble", fmt.Errorf("length and count must be positive"))
			}
			gen := cube.NewGenerator()
			list := make([]string, 0, count)
			for range count {
				if !remote {
					list = append(list, gen.Generate(length))
					continue
				}
				c, err := rootOpts.client()
				if err != nil {
					return out.Fail("scramble", err)
				}
				s, err := c.Scramble(cmd.Context(), length)
				if err != nil {
					return out.Fail("scramble", err)
				}
				list = append(list, s)
			}
			return out.Success(list, strings.Join(list, "\n"))
		},
	}
	cmd.Flags().IntVarP(&length, "length", "n", cube.DefaultScrambleLength, "moves per scramble")
	cmd.Flags().IntVarP(&count, "count", "c", 1, "number of scrambles")
	cmd.Flags().BoolVar(&remote, "remote", false, "ask roundd instead of generating locally")
	return cmd
}

func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	var strict, remote bool
	cmd := &cobra.Command{
		Use:           "apply <scramble>",
		Short:         "Apply a scramble to a solved cube and print the faces",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(rootOpts, cmd)
			scramble := strings.Join(args, " ")
			if strict {
				if _, err := cube.ParseScramble(scramble); err != nil {
					return out.Fail("apply", err)
				}
			}
			if remote {
				c, err := rootOpts.client()
				if err != nil {
					return out.Fail("apply", err)
				}
				resp, err := c.Cube(cmd.Context(), scramble)
				if err != nil {
					return out.Fail("apply", err)
				}
				return out.Success(resp, resp.State)
			}
			st, skipped := cube.ApplyScrambleReport(scramble)
			for _, tok := range skipped {
				out.VerboseLog("skipped token %q", tok)
			}
			resp := rounddto.CubeResponse{
				Scramble: scramble,
				State:    st.String(),
				Faces:    st.Map(),
				Solved:   st.IsSolved(),
				Skipped:  skipped,
			}
			return out.Success(resp, renderFaces(st))
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "reject unknown tokens instead of skipping them")
	cmd.Flags().BoolVar(&remote, "remote", false, "let roundd apply the scramble")
	return cmd
}

// renderFaces prints each face as three rows.
func renderFaces(st cube.State) string {
	var b strings.Builder
	for i, f := range cube.Faces {
		if i > 0 {
			b.WriteByte('\n')
		}
		stickers := st.Face(f)
		fmt.Fprintf(&b, "%s  %s %s %s", f, stickers[0:3], stickers[3:6], stickers[6:9])
	}
	return b.String()
}

func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
