package snapshots

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/withObsrvr/qubic-explorer-core/identity"
	"github.com/withObsrvr/qubic-explorer-core/metrics"
	"github.com/withObsrvr/qubic-explorer-core/store"
)

// spectrumRecordSize is the fixed width of one spectrum entity record:
// pubkey(32) | incoming i64 | outgoing i64 | n_in u32 | n_out u32 |
// latest_in u32 | latest_out u32
const spectrumRecordSize = 64

// parseSpectrum decodes the little-endian spectrum file into balance
// snapshot rows. All-zero public keys (empty slots) are discarded.
func parseSpectrum(data []byte, epoch uint32) ([]store.BalanceSnapshot, error) {
	if len(data)%spectrumRecordSize != 0 {
		return nil, fmt.Errorf("spectrum file length %d is not a multiple of %d", len(data), spectrumRecordSize)
	}

	var snapshots []store.BalanceSnapshot
	for offset := 0; offset < len(data); offset += spectrumRecordSize {
		record := data[offset : offset+spectrumRecordSize]
		pubKey := record[0:32]
		if identity.IsZero(pubKey) {
			continue
		}

		address, err := identity.FromPublicKey(pubKey)
		if err != nil {
			return nil, fmt.Errorf("record at offset %d: %w", offset, err)
		}

		incoming := int64(binary.LittleEndian.Uint64(record[32:40]))
		outgoing := int64(binary.LittleEndian.Uint64(record[40:48]))

		snapshots = append(snapshots, store.BalanceSnapshot{
			Epoch:              epoch,
			Address:            address,
			Balance:            incoming - outgoing,
			IncomingAmount:     incoming,
			OutgoingAmount:     outgoing,
			NumIncoming:        binary.LittleEndian.Uint32(record[48:52]),
			NumOutgoing:        binary.LittleEndian.Uint32(record[52:56]),
			LatestIncomingTick: binary.LittleEndian.Uint32(record[56:60]),
			LatestOutgoingTick: binary.LittleEndian.Uint32(record[60:64]),
		})
	}
	return snapshots, nil
}

// ImportSpectrum downloads and imports the spectrum file of an epoch.
// Existing rows of the epoch are dropped first, so re-imports are safe.
func (imp *Importer) ImportSpectrum(ctx context.Context, epoch uint32, initialTick uint64) error {
	start := time.Now()

	data, archiveSize, err := downloadArchive(ctx, imp.client, imp.baseURL, epoch, "spectrum.", spectrumDownloadTimeout)
	if err != nil {
		return err
	}

	snapshots, err := parseSpectrum(data, epoch)
	if err != nil {
		return fmt.Errorf("failed to parse spectrum for epoch %d: %w", epoch, err)
	}

	if err := imp.store.DeleteBalanceSnapshots(ctx, epoch); err != nil {
		return err
	}
	if err := imp.store.InsertBalanceSnapshots(ctx, snapshots); err != nil {
		return err
	}

	duration := time.Since(start)
	marker := &store.ImportMarker{
		Epoch:       epoch,
		TickNumber:  initialTick,
		RecordCount: uint64(len(snapshots)),
		FileSize:    archiveSize,
		DurationMs:  duration.Milliseconds(),
		ImportedAt:  time.Now().UTC(),
	}
	if err := imp.store.InsertSpectrumImport(ctx, marker); err != nil {
		return err
	}

	metrics.SnapshotImports.WithLabelValues("spectrum").Inc()
	metrics.SnapshotImportDuration.WithLabelValues("spectrum").Observe(duration.Seconds())
	imp.log.Info().
		Uint32("epoch", epoch).
		Int("accounts", len(snapshots)).
		Int64("file_size", archiveSize).
		Dur("duration", duration).
		Msg("Spectrum imported")
	return nil
}
