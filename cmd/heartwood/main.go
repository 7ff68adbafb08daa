package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/heartwoodb/heartwood/pkg/config"
	"github.com/heartwoodb/heartwood/pkg/datasource"
	"github.com/heartwoodb/heartwood/pkg/engine"
	"github.com/heartwoodb/heartwood/pkg/log"
	"github.com/heartwoodb/heartwood/pkg/security"
	"github.com/heartwoodb/heartwood/pkg/storage"
	"github.com/heartwoodb/heartwood/pkg/store"
	"github.com/heartwoodb/heartwood/pkg/walog"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "heartwood",
	Short: "Heartwood - an embeddable, replicated graph-database core",
	Long: `Heartwood is a library: an on-disk transactional record store, a
write-ahead logical log, and a raft-coordinated primary/follower
replication protocol. This binary stands the library up as a
standalone process for testing and demonstration.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Heartwood version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(certCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func configFromFlags(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.Load(path)
	}

	machineID, _ := cmd.Flags().GetUint64("machine-id")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	haServer, _ := cmd.Flags().GetString("ha-server")
	coordinationServers, _ := cmd.Flags().GetStringSlice("coordination-servers")
	pullInterval, _ := cmd.Flags().GetInt("pull-interval")
	clusterName, _ := cmd.Flags().GetString("cluster-name")

	cfg := config.Default()
	cfg.MachineID = machineID
	cfg.DataDir = dataDir
	cfg.HAServer = haServer
	cfg.CoordinationServers = coordinationServers
	cfg.ClusterName = clusterName
	if pullInterval > 0 {
		cfg.PullIntervalSeconds = pullInterval
	}
	return cfg, nil
}

func runUntilSignal(label string, eng *engine.Engine) error {
	fmt.Printf("%s running. Machine is %s. Press Ctrl+C to stop.\n", label, primaryLabel(eng))

	sub := eng.Events().Subscribe()
	defer eng.Events().Unsubscribe(sub)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
			return eng.Shutdown()
		case ev, ok := <-sub:
			if !ok {
				return eng.Shutdown()
			}
			fmt.Printf("[event] %s: %s\n", ev.Type, ev.Message)
		}
	}
}

func primaryLabel(eng *engine.Engine) string {
	if eng.IsPrimary() {
		return "primary"
	}
	return "follower"
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Initialize a brand new single-member coordination group",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		cfg.AllowInitCluster = true
		if err := cfg.Validate(); err != nil {
			return err
		}

		eng, err := engine.New(cfg)
		if err != nil {
			return fmt.Errorf("open engine: %w", err)
		}
		if err := eng.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap coordination group: %w", err)
		}

		fmt.Printf("Heartwood cluster %q bootstrapped\n", cfg.ClusterName)
		fmt.Printf("  Machine ID: %d\n", cfg.MachineID)
		fmt.Printf("  Data dir: %s\n", cfg.DataDir)
		fmt.Printf("  HA server: %s\n", cfg.HAServer)

		return runUntilSignal("bootstrap", eng)
	},
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join an existing coordination group as a voter",
	Long: `Join starts this machine's raft participation against an already
bootstrapped coordination group. The machine must already have been
added as a voter by the current primary — an embedding application
drives this through Engine.AddVoter, there is no CLI subcommand for it
here since it requires calling into the already-running primary
process directly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		eng, err := engine.New(cfg)
		if err != nil {
			return fmt.Errorf("open engine: %w", err)
		}
		if err := eng.Join(); err != nil {
			return fmt.Errorf("join coordination group: %w", err)
		}

		fmt.Printf("Machine %d joined cluster %q\n", cfg.MachineID, cfg.ClusterName)
		return runUntilSignal("follower", eng)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report this machine's on-disk store state without starting raft",
	Long: `Status opens the store, logical log, and token database (raft is
never started; the files are opened read-write) and prints the local
persisted state: the store identity, record files on disk, and the
highest committed transaction the graph source has durably applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		if dataDir == "" {
			return fmt.Errorf("--data-dir is required")
		}

		st, err := openStoreReadOnly(dataDir)
		if err != nil {
			return err
		}
		defer st.close()

		fmt.Printf("Store ID: %x\n", st.store.StoreID())
		fmt.Printf("Data dir: %s\n", st.store.Dir())
		fmt.Println("Files:")
		for _, name := range st.store.FileNames() {
			fmt.Printf("  %s\n", name)
		}

		paths, err := walog.SegmentPaths(st.store.Dir())
		if err != nil {
			return fmt.Errorf("list log segments: %w", err)
		}
		fmt.Printf("Log segments: %d\n", len(paths))
		fmt.Printf("Last committed graph tx: %d\n", st.graph.LastCommittedTxID())

		return nil
	},
}

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Manage this cluster's certificate authority and node certificates",
}

var certIssueCmd = &cobra.Command{
	Use:   "issue NODE_ID",
	Short: "Issue a node certificate for mTLS between cluster members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID := args[0]
		dataDir, _ := cmd.Flags().GetString("data-dir")
		certDir, _ := cmd.Flags().GetString("cert-dir")
		role, _ := cmd.Flags().GetString("role")
		hosts, _ := cmd.Flags().GetStringSlice("hosts")

		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		if err := os.MkdirAll(certDir, 0755); err != nil {
			return fmt.Errorf("create cert dir: %w", err)
		}

		tokens, err := storage.NewBoltTokenStore(dataDir)
		if err != nil {
			return fmt.Errorf("open token store: %w", err)
		}
		defer tokens.Close()

		ca := security.NewCertAuthority(tokens)
		if err := ca.LoadFromStore(); err != nil {
			if err := ca.Initialize(); err != nil {
				return fmt.Errorf("initialize CA: %w", err)
			}
			if err := ca.SaveToStore(); err != nil {
				return fmt.Errorf("save CA: %w", err)
			}
			fmt.Println("Initialized new cluster certificate authority")
		}

		var ips []net.IP
		var dnsNames []string
		for _, h := range hosts {
			if ip := net.ParseIP(h); ip != nil {
				ips = append(ips, ip)
			} else {
				dnsNames = append(dnsNames, h)
			}
		}

		cert, err := ca.IssueNodeCertificate(nodeID, role, dnsNames, ips)
		if err != nil {
			return fmt.Errorf("issue node certificate: %w", err)
		}

		if err := security.SaveCertToFile(cert, certDir); err != nil {
			return fmt.Errorf("save node certificate: %w", err)
		}
		if err := security.SaveCACertToFile(ca.GetRootCACert(), certDir); err != nil {
			return fmt.Errorf("save CA certificate: %w", err)
		}

		fmt.Printf("Issued %s certificate for %q into %s\n", role, nodeID, certDir)
		return nil
	},
}

func init() {
	bootstrapCmd.Flags().String("config", "", "Path to a YAML config file (overrides other flags)")
	bootstrapCmd.Flags().Uint64("machine-id", 1, "This machine's permanent numeric identity")
	bootstrapCmd.Flags().String("data-dir", "./heartwood-data", "Data directory for store files, the logical log, and the token database")
	bootstrapCmd.Flags().String("ha-server", "127.0.0.1:7946", "Bind address advertised for the primary RPC server and raft transport")
	bootstrapCmd.Flags().StringSlice("coordination-servers", nil, "Addresses of other coordination group members")
	bootstrapCmd.Flags().Int("pull-interval", 0, "Follower pull interval in seconds (0 uses the config default)")
	bootstrapCmd.Flags().String("cluster-name", "heartwood", "Human-readable cluster name")

	joinCmd.Flags().String("config", "", "Path to a YAML config file (overrides other flags)")
	joinCmd.Flags().Uint64("machine-id", 2, "This machine's permanent numeric identity")
	joinCmd.Flags().String("data-dir", "./heartwood-data", "Data directory for store files, the logical log, and the token database")
	joinCmd.Flags().String("ha-server", "127.0.0.1:7947", "Bind address advertised for the primary RPC server and raft transport")
	joinCmd.Flags().StringSlice("coordination-servers", nil, "Addresses of other coordination group members")
	joinCmd.Flags().Int("pull-interval", 0, "Follower pull interval in seconds (0 uses the config default)")
	joinCmd.Flags().String("cluster-name", "heartwood", "Human-readable cluster name")

	statusCmd.Flags().String("data-dir", "", "Data directory for store files, the logical log, and the token database")

	certCmd.AddCommand(certIssueCmd)
	certIssueCmd.Flags().String("data-dir", "./heartwood-data", "Data directory holding the CA's token database")
	certIssueCmd.Flags().String("cert-dir", "./heartwood-certs", "Directory to write the issued certificate and CA chain to")
	certIssueCmd.Flags().String("role", "follower", "Node role to encode in the certificate (primary or follower)")
	certIssueCmd.Flags().StringSlice("hosts", []string{"localhost", "127.0.0.1"}, "DNS names and/or IP addresses the certificate is valid for")
}

// readOnlyStore bundles the handles status needs. Nothing here starts
// raft, but the handles are opened read-write, and opening the token
// database waits for its file lock while a bootstrap/join process
// holds the same data directory.
type readOnlyStore struct {
	store  *store.Store
	graph  *datasource.GraphSource
	tokens *storage.BoltTokenStore
	log_   *walog.Writer
}

func (s *readOnlyStore) close() {
	_ = s.log_.Close()
	_ = s.tokens.Close()
	_ = s.store.Close()
}

func openStoreReadOnly(dataDir string) (*readOnlyStore, error) {
	st, err := store.Open(dataDir, false)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	logWriter, err := walog.NewWriter(dataDir, true)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open logical log: %w", err)
	}

	tokens, err := storage.NewBoltTokenStore(dataDir)
	if err != nil {
		_ = logWriter.Close()
		_ = st.Close()
		return nil, fmt.Errorf("open token store: %w", err)
	}

	graphSrc, err := datasource.NewGraphSource(st, logWriter, tokens)
	if err != nil {
		_ = tokens.Close()
		_ = logWriter.Close()
		_ = st.Close()
		return nil, fmt.Errorf("init graph source: %w", err)
	}

	return &readOnlyStore{store: st, graph: graphSrc, tokens: tokens, log_: logWriter}, nil
}
