package snapshots

import (
	"context"
	"net/http"
	"time"

	"github.com/withObsrvr/qubic-explorer-core/logging"
	"github.com/withObsrvr/qubic-explorer-core/store"
)

const (
	importPeriod     = 5 * time.Minute
	importBackoff    = 15 * time.Minute
	lookbackEpochs   = 10
	maxImportsPerRun = 5
)

// Store is the slice of the columnar store the importers need
type Store interface {
	LastCompletedEpochs(ctx context.Context, limit int) ([]store.EpochMeta, error)
	DeleteBalanceSnapshots(ctx context.Context, epoch uint32) error
	InsertBalanceSnapshots(ctx context.Context, snapshots []store.BalanceSnapshot) error
	HasSpectrumImport(ctx context.Context, epoch uint32) (bool, error)
	InsertSpectrumImport(ctx context.Context, m *store.ImportMarker) error
	DeleteAssetSnapshots(ctx context.Context, epoch uint32) error
	InsertAssetSnapshots(ctx context.Context, snapshots []store.AssetSnapshot) error
	HasUniverseImport(ctx context.Context, epoch uint32) (bool, error)
	InsertUniverseImport(ctx context.Context, m *store.ImportMarker) error
}

// Importer downloads and imports snapshot archives on epoch completion
type Importer struct {
	store   Store
	baseURL string
	client  *http.Client
	log     *logging.ComponentLogger
}

// New creates a snapshot importer
func New(st Store, baseURL string, log *logging.ComponentLogger) *Importer {
	return &Importer{
		store:   st,
		baseURL: baseURL,
		client:  &http.Client{}, // per-download timeouts via request context
		log:     log,
	}
}

// Run drives automatic imports: every five minutes it scans the last
// completed epochs and imports whichever spectrum and universe files
// are not yet marked imported, backing off after errors.
func (imp *Importer) Run(ctx context.Context) {
	for {
		start := time.Now()
		err := imp.importCycle(ctx)
		imp.log.LogWorkerCycle("snapshot-importer", time.Since(start), err)

		wait := importPeriod
		if err != nil {
			wait = importBackoff
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// importCycle imports at most maxImportsPerRun missing files across the
// last completed epochs
func (imp *Importer) importCycle(ctx context.Context) error {
	epochs, err := imp.store.LastCompletedEpochs(ctx, lookbackEpochs)
	if err != nil {
		return err
	}

	imports := 0
	for _, meta := range epochs {
		if imports >= maxImportsPerRun {
			return nil
		}

		done, err := imp.store.HasSpectrumImport(ctx, meta.Epoch)
		if err != nil {
			return err
		}
		if !done {
			if err := imp.ImportSpectrum(ctx, meta.Epoch, meta.InitialTick); err != nil {
				return err
			}
			imports++
		}

		if imports >= maxImportsPerRun {
			return nil
		}

		done, err = imp.store.HasUniverseImport(ctx, meta.Epoch)
		if err != nil {
			return err
		}
		if !done {
			if err := imp.ImportUniverse(ctx, meta.Epoch, meta.InitialTick); err != nil {
				return err
			}
			imports++
		}
	}
	return nil
}
