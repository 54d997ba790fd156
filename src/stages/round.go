package stages

import (
	"errors"
	"os"
	"path/filepath"

	"flpre/configs"
	"flpre/src/utils"
)

// Parties are the two clients of a round. The first is moved into the second's domain.
var Parties = [2]string{"client_1", "client_2"}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

// RunRound runs one aggregation round locally over the storage layout under root. The
// context and the key pairs are generated only when missing. Both parties end up with the
// averaged summary decrypted under their own key.
func RunRound(root string, logger utils.Logger) error {
	cc := filepath.Join(root, configs.CryptoContextFile)
	if !exists(cc) {
		if _, err := GenerateContext(filepath.Join(root, configs.ContextConfigFile), cc, logger); err != nil {
			return err
		}
	}

	path := func(i int, artifact string) string { return configs.ClientPath(root, Parties[i], artifact) }
	for i := range Parties {
		if exists(path(i, configs.PrivateKey)) && exists(path(i, configs.PublicKey)) {
			continue
		}
		if err := GenerateKeys(cc, path(i, configs.PublicKey), path(i, configs.PrivateKey), logger); err != nil {
			return err
		}
	}
	for i := range Parties {
		if err := EncryptWeights(cc, path(i, configs.PublicKey), path(i, configs.PlainWeights), path(i, configs.EncryptedWeights), logger); err != nil {
			return err
		}
	}
	if err := GenerateTransformKey(cc, path(0, configs.PrivateKey), path(1, configs.PublicKey), path(0, configs.TransformKey), logger); err != nil {
		return err
	}
	if err := GenerateTransformKey(cc, path(1, configs.PrivateKey), path(0, configs.PublicKey), path(1, configs.TransformKey), logger); err != nil {
		return err
	}

	changed := configs.ServerPath(root, configs.DomainChangedFile)
	aggregated := configs.ServerPath(root, configs.AggregatedFile)
	returned := configs.ServerPath(root, configs.AggregatedDomainChangedFile)
	if err := ChangeDomain(cc, path(0, configs.TransformKey), path(0, configs.EncryptedWeights), changed, logger); err != nil {
		return err
	}
	if err := AggregateWeights(cc, path(1, configs.EncryptedWeights), changed, aggregated, logger); err != nil {
		return err
	}
	if err := ChangeDomain(cc, path(1, configs.TransformKey), aggregated, returned, logger); err != nil {
		return err
	}
	if err := DecryptWeights(cc, path(1, configs.PrivateKey), aggregated, path(1, configs.DecryptedWeights), logger); err != nil {
		return err
	}
	return DecryptWeights(cc, path(0, configs.PrivateKey), returned, path(0, configs.DecryptedWeights), logger)
}
