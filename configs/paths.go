package configs

import "path/filepath"

// Server side layout, relative to the project root
const ServerConfigFile = "server/config/sConfig.json"
const ContextConfigFile = "server/config/config_cc.json"
const ServerStorage = "server/storage/"
const CryptoContextFile = "server/storage/CC.json"
const ServerMetricsFile = "server_comm_metrics.csv"
const DomainChangedFile = "domain_changed.json"
const AggregatedFile = "aggregated.json"
const AggregatedDomainChangedFile = "aggregated_domain_changed.json"

// Client side layout, one directory per party
const ClientStorage = "client/storage/"
const ClientMetricsFile = "comm_metrics.csv"
const PublicKey = "public/pubkey.json"
const PrivateKey = "private/privkey.json"
const TransformKey = "public/rekey.json"
const PlainWeights = "private/weights_summary.json"
const EncryptedWeights = "public/enc_weights.json"
const DecryptedWeights = "private/dec_weights.json"

// OptimizerPrefix marks optimizer state layers, never encrypted
const OptimizerPrefix = "optimizer/"

// DefaultMaxBodyBytes caps a single upload
const DefaultMaxBodyBytes int64 = 100 << 20

// ClientPath locates an artifact of one party under root.
func ClientPath(root, clientID, artifact string) string {
	return filepath.Join(root, ClientStorage, clientID, artifact)
}

// ServerPath locates a relay artifact under root.
func ServerPath(root, artifact string) string {
	return filepath.Join(root, ServerStorage, artifact)
}
