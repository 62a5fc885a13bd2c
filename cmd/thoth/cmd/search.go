package cmd

import (
	"github.com/spf13/cobra"

	"github.com/thothlabs/thoth/internal/store"
)

func newSearchCmd() *cobra.Command {
	var (
		collection string
		n          int
		filePath   string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := newEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			st, err := store.Open(cmd.Context(), store.Config{
				BaseURI:    env.Settings.BaseURI(),
				Collection: collection,
				S3Endpoint: env.Settings.ObjectStoreEndpoint,
			}, env.Embedder)
			if err != nil {
				return err
			}
			defer st.Close()

			var where store.Filter
			if filePath != "" {
				where = store.Filter{"file_path": filePath}
			}
			results, err := st.SearchSimilar(cmd.Context(), args[0], n, where, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd, results)
		},
	}

	cmd.Flags().StringVar(&collection, "collection", "handbook", "Collection to search")
	cmd.Flags().IntVar(&n, "n", 5, "Number of results")
	cmd.Flags().StringVar(&filePath, "file", "", "Restrict to one file path")
	return cmd
}
