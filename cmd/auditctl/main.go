package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/auditchain/auditchain/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	authToken string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "auditctl",
	Short: "auditchain CLI",
	Long: `auditctl is the command-line interface for the auditchain service.

It appends audit records, searches and fetches them, verifies per-tenant
hash chains, and exports chain windows as CSV.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.auditchain")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if authToken == "" {
			authToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.auditchain/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "auditchain server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "bearer token for authenticated endpoints")

	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() *client.Client {
	opts := []client.Option{}
	if authToken != "" {
		opts = append(opts, client.WithBearerToken(authToken))
	}
	return client.New(serverURL, opts...)
}

// ── append ───────────────────────────────────────────────────────────────────

var (
	appendTenant        string
	appendSubmissionID  string
	appendActor         string
	appendAction        string
	appendResourceType  string
	appendResourceID    string
	appendCorrelationID string
	appendPayload       string
)

var appendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append an audit record to a tenant's chain",
	Long: `Append writes one audit record to the end of a tenant's hash chain.

Pass --submission-id to make retries safe: resending the identical request
with the same submission id replays the stored record instead of appending
a duplicate.

  auditctl append --tenant acme --actor billing-svc --action invoice.created \
    --resource-type invoice --resource-id inv_42 \
    --payload '{"amount": 100, "currency": "USD"}'`,
	RunE: runAppend,
}

func init() {
	appendCmd.Flags().StringVar(&appendTenant, "tenant", "", "Tenant id (required)")
	appendCmd.Flags().StringVar(&appendSubmissionID, "submission-id", "", "Idempotency key; generated server-side when empty")
	appendCmd.Flags().StringVar(&appendActor, "actor", "", "Acting principal (required)")
	appendCmd.Flags().StringVar(&appendAction, "action", "", "Action name, e.g. invoice.created (required)")
	appendCmd.Flags().StringVar(&appendResourceType, "resource-type", "", "Resource type (required)")
	appendCmd.Flags().StringVar(&appendResourceID, "resource-id", "", "Resource id (required)")
	appendCmd.Flags().StringVar(&appendCorrelationID, "correlation-id", "", "Correlation id for tracing")
	appendCmd.Flags().StringVar(&appendPayload, "payload", "", "JSON object payload")
	for _, f := range []string{"tenant", "actor", "action", "resource-type", "resource-id"} {
		_ = appendCmd.MarkFlagRequired(f)
	}
}

func runAppend(cmd *cobra.Command, args []string) error {
	var payload map[string]any
	if appendPayload != "" {
		if err := json.Unmarshal([]byte(appendPayload), &payload); err != nil {
			return fmt.Errorf("invalid --payload: %w", err)
		}
	}

	rec, created, err := newClient().AppendRecord(context.Background(), client.AppendRequest{
		TenantID:      appendTenant,
		SubmissionID:  appendSubmissionID,
		Actor:         appendActor,
		Action:        appendAction,
		ResourceType:  appendResourceType,
		ResourceID:    appendResourceID,
		CorrelationID: appendCorrelationID,
		Payload:       payload,
	})
	if err != nil {
		return err
	}

	if created {
		fmt.Printf("appended seq %d\n", rec.Seq)
	} else {
		fmt.Printf("replayed seq %d (submission already recorded)\n", rec.Seq)
	}
	printRecord(rec)
	return nil
}

// ── get ──────────────────────────────────────────────────────────────────────

var getFormat string

var getCmd = &cobra.Command{
	Use:   "get <record-id>",
	Short: "Fetch an audit record by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := newClient().GetRecord(context.Background(), args[0])
		if err != nil {
			return err
		}
		if getFormat == "json" {
			return printJSON(rec)
		}
		printRecord(rec)
		return nil
	},
}

func init() {
	getCmd.Flags().StringVar(&getFormat, "format", "text", "Output format: text or json")
}

// ── search ───────────────────────────────────────────────────────────────────

var (
	searchTenant string
	searchActor  string
	searchAction string
	searchFrom   string
	searchTo     string
	searchPage   int
	searchSize   int
	searchFormat string
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search a tenant's audit records",
	Long: `Search lists a tenant's records filtered by actor substring, exact
action, and creation time window, in chain order:

  auditctl search --tenant acme --actor billing --from 2026-01-01T00:00:00Z`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchTenant, "tenant", "", "Tenant id (required)")
	searchCmd.Flags().StringVar(&searchActor, "actor", "", "Actor substring filter")
	searchCmd.Flags().StringVar(&searchAction, "action", "", "Exact action filter")
	searchCmd.Flags().StringVar(&searchFrom, "from", "", "Inclusive lower bound on created_at (RFC3339)")
	searchCmd.Flags().StringVar(&searchTo, "to", "", "Exclusive upper bound on created_at (RFC3339)")
	searchCmd.Flags().IntVar(&searchPage, "page", 0, "Zero-based page number")
	searchCmd.Flags().IntVar(&searchSize, "size", 50, "Page size")
	searchCmd.Flags().StringVar(&searchFormat, "format", "text", "Output format: text or json")
	_ = searchCmd.MarkFlagRequired("tenant")
}

func runSearch(cmd *cobra.Command, args []string) error {
	opts := client.SearchOptions{
		Actor:  searchActor,
		Action: searchAction,
		Page:   searchPage,
		Size:   searchSize,
	}
	if searchFrom != "" {
		t, err := time.Parse(time.RFC3339, searchFrom)
		if err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
		opts.From = &t
	}
	if searchTo != "" {
		t, err := time.Parse(time.RFC3339, searchTo)
		if err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
		opts.To = &t
	}

	res, err := newClient().SearchRecords(context.Background(), searchTenant, opts)
	if err != nil {
		return err
	}
	if searchFormat == "json" {
		return printJSON(res)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tACTOR\tACTION\tRESOURCE\tCREATED\tID")
	for _, rec := range res.Records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s/%s\t%s\t%s\n",
			rec.Seq, rec.Actor, rec.Action,
			rec.ResourceType, rec.ResourceID,
			rec.CreatedAt.Format(time.RFC3339), rec.ID,
		)
	}
	w.Flush()
	fmt.Printf("page %d, %d of %d record(s)\n", res.Page, len(res.Records), res.Total)
	return nil
}

// ── verify ───────────────────────────────────────────────────────────────────

var (
	verifyTenant  string
	verifyFromSeq int64
	verifyToSeq   int64
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of a tenant's hash chain",
	Long: `Verify recomputes every digest in the tenant's chain and checks each
record links to its predecessor. Pass --from-seq/--to-seq to verify a
bounded window:

  auditctl verify --tenant acme
  auditctl verify --tenant acme --from-seq 100 --to-seq 200`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyTenant, "tenant", "", "Tenant id (required)")
	verifyCmd.Flags().Int64Var(&verifyFromSeq, "from-seq", 0, "Inclusive lower sequence bound; 0 means from genesis")
	verifyCmd.Flags().Int64Var(&verifyToSeq, "to-seq", 0, "Inclusive upper sequence bound; 0 means chain head")
	_ = verifyCmd.MarkFlagRequired("tenant")
}

func runVerify(cmd *cobra.Command, args []string) error {
	res, err := newClient().Verify(context.Background(), verifyTenant, verifyFromSeq, verifyToSeq)
	if err != nil {
		return err
	}

	if res.OK {
		fmt.Printf("OK: %d record(s) verified\n", res.RecordsChecked)
		return nil
	}
	fmt.Printf("FAILED after %d record(s): %s\n", res.RecordsChecked, res.Message)
	if res.FirstMismatchID != "" {
		fmt.Printf("first mismatch: %s\n", res.FirstMismatchID)
	}
	os.Exit(1)
	return nil
}

// ── export ───────────────────────────────────────────────────────────────────

var (
	exportTenant  string
	exportFromSeq int64
	exportToSeq   int64
	exportOut     string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a tenant's chain window as CSV",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportTenant, "tenant", "", "Tenant id (required)")
	exportCmd.Flags().Int64Var(&exportFromSeq, "from-seq", 0, "Inclusive lower sequence bound; 0 means from genesis")
	exportCmd.Flags().Int64Var(&exportToSeq, "to-seq", 0, "Inclusive upper sequence bound; 0 means chain head")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Output file; stdout when empty")
	_ = exportCmd.MarkFlagRequired("tenant")
}

func runExport(cmd *cobra.Command, args []string) error {
	out := os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOut, err)
		}
		defer f.Close()
		out = f
	}

	if err := newClient().ExportCSV(context.Background(), out, exportTenant, exportFromSeq, exportToSeq); err != nil {
		return err
	}
	if exportOut != "" {
		fmt.Fprintf(os.Stderr, "wrote %s\n", exportOut)
	}
	return nil
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenAdminSecret string
	tokenSubject     string
	tokenRoles       []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Exchange the admin secret for a role token",
	Long: `Token obtains a bearer token carrying the requested roles:

  auditctl token --admin-secret "$ADMIN_SECRET" --subject billing-svc \
    --role audit:write --role audit:read`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenAdminSecret, "admin-secret", "", "Server admin secret (required)")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject, e.g. a service name (required)")
	tokenCmd.Flags().StringArrayVar(&tokenRoles, "role", []string{"audit:read"}, "Role to grant (repeatable)")
	_ = tokenCmd.MarkFlagRequired("admin-secret")
	_ = tokenCmd.MarkFlagRequired("subject")
}

func runToken(cmd *cobra.Command, args []string) error {
	token, err := newClient().Token(context.Background(), tokenAdminSecret, tokenSubject, tokenRoles)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the auditctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("auditctl %s\n", version)
	},
}

// ── output helpers ───────────────────────────────────────────────────────────

func printRecord(rec *client.Record) {
	fmt.Printf("ID:            %s\n", rec.ID)
	fmt.Printf("Tenant:        %s\n", rec.TenantID)
	fmt.Printf("Seq:           %d\n", rec.Seq)
	fmt.Printf("Submission:    %s\n", rec.SubmissionID)
	fmt.Printf("Actor:         %s\n", rec.Actor)
	fmt.Printf("Action:        %s\n", rec.Action)
	fmt.Printf("Resource:      %s/%s\n", rec.ResourceType, rec.ResourceID)
	if rec.CorrelationID != "" {
		fmt.Printf("Correlation:   %s\n", rec.CorrelationID)
	}
	fmt.Printf("Created:       %s\n", rec.CreatedAt.Format(time.RFC3339Nano))
	fmt.Printf("Hash:          %s:%s %s\n", rec.HashAlg, rec.KeyID, rec.Hash)
	if rec.PrevHash != "" {
		fmt.Printf("Prev Hash:     %s\n", rec.PrevHash)
	}
	if len(rec.Payload) > 0 && string(rec.Payload) != "{}" {
		fmt.Printf("Payload:       %s\n", strings.TrimSpace(string(rec.Payload)))
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
