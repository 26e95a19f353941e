package snapshots

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/withObsrvr/qubic-explorer-core/identity"
	"github.com/withObsrvr/qubic-explorer-core/metrics"
	"github.com/withObsrvr/qubic-explorer-core/store"
)

// universeRecordSize is the fixed width of one asset record. The record
// is a discriminated union on the type byte at offset 32; the one byte
// of padding after it keeps ownership and possession records at exactly
// 48 bytes.
const universeRecordSize = 48

// Universe record type discriminators
const (
	universeTypeIssuance   = 1
	universeTypeOwnership  = 2
	universeTypePossession = 3
)

// rawIssuance is an asset issuance keyed by its position in the file
type rawIssuance struct {
	issuer   string
	name     string
	decimals int8
}

// rawHolding is an ownership or possession record before resolution
type rawHolding struct {
	holder        string
	contractIndex uint16
	refIndex      uint32 // issuance index for ownerships, ownership index for possessions
	shares        int64
}

// parsedUniverse holds the three record classes keyed by file position
type parsedUniverse struct {
	issuances   map[uint32]rawIssuance
	ownerships  map[uint32]rawHolding
	possessions map[uint32]rawHolding
}

// parseUniverse decodes the universe file in three passes: collect raw
// records by position index, resolve ownerships to issuances, then
// resolve possessions through ownerships. Records with dangling
// references are silently dropped.
func parseUniverse(data []byte, epoch uint32) ([]store.AssetSnapshot, error) {
	raw, err := collectUniverseRecords(data)
	if err != nil {
		return nil, err
	}

	var snapshots []store.AssetSnapshot

	for _, iss := range raw.issuances {
		snapshots = append(snapshots, store.AssetSnapshot{
			Epoch:                 epoch,
			Issuer:                iss.issuer,
			AssetName:             iss.name,
			Holder:                iss.issuer,
			RecordType:            store.AssetRecordIssuance,
			NumberOfDecimalPlaces: iss.decimals,
		})
	}

	// Second pass: ownership -> issuance
	for _, own := range raw.ownerships {
		iss, ok := raw.issuances[own.refIndex]
		if !ok {
			continue
		}
		snapshots = append(snapshots, store.AssetSnapshot{
			Epoch:                 epoch,
			Issuer:                iss.issuer,
			AssetName:             iss.name,
			Holder:                own.holder,
			RecordType:            store.AssetRecordOwnership,
			ManagingContractIndex: own.contractIndex,
			NumberOfShares:        own.shares,
			NumberOfDecimalPlaces: iss.decimals,
		})
	}

	// Third pass: possession -> ownership -> issuance
	for _, pos := range raw.possessions {
		own, ok := raw.ownerships[pos.refIndex]
		if !ok {
			continue
		}
		iss, ok := raw.issuances[own.refIndex]
		if !ok {
			continue
		}
		snapshots = append(snapshots, store.AssetSnapshot{
			Epoch:                 epoch,
			Issuer:                iss.issuer,
			AssetName:             iss.name,
			Holder:                pos.holder,
			RecordType:            store.AssetRecordPossession,
			ManagingContractIndex: pos.contractIndex,
			NumberOfShares:        pos.shares,
			NumberOfDecimalPlaces: iss.decimals,
		})
	}

	return snapshots, nil
}

// collectUniverseRecords is the first pass: raw records by position index
func collectUniverseRecords(data []byte) (*parsedUniverse, error) {
	if len(data)%universeRecordSize != 0 {
		return nil, fmt.Errorf("universe file length %d is not a multiple of %d", len(data), universeRecordSize)
	}

	raw := &parsedUniverse{
		issuances:   make(map[uint32]rawIssuance),
		ownerships:  make(map[uint32]rawHolding),
		possessions: make(map[uint32]rawHolding),
	}

	for offset := 0; offset < len(data); offset += universeRecordSize {
		index := uint32(offset / universeRecordSize)
		record := data[offset : offset+universeRecordSize]
		pubKey := record[0:32]
		if identity.IsZero(pubKey) {
			continue
		}

		address, err := identity.FromPublicKey(pubKey)
		if err != nil {
			return nil, fmt.Errorf("record at offset %d: %w", offset, err)
		}

		switch record[32] {
		case universeTypeIssuance:
			name := strings.TrimRight(string(record[33:40]), "\x00")
			raw.issuances[index] = rawIssuance{
				issuer:   address,
				name:     name,
				decimals: int8(record[40]),
			}
		case universeTypeOwnership:
			raw.ownerships[index] = parseHolding(address, record)
		case universeTypePossession:
			raw.possessions[index] = parseHolding(address, record)
		default:
			// Unknown record type; skip
		}
	}
	return raw, nil
}

// parseHolding decodes the shared layout of ownership and possession
// records: type(1) | pad(1) | managing_contract u16 | ref_index u32 |
// shares i64
func parseHolding(holder string, record []byte) rawHolding {
	return rawHolding{
		holder:        holder,
		contractIndex: binary.LittleEndian.Uint16(record[34:36]),
		refIndex:      binary.LittleEndian.Uint32(record[36:40]),
		shares:        int64(binary.LittleEndian.Uint64(record[40:48])),
	}
}

// ImportUniverse downloads and imports the universe file of an epoch.
// Existing rows of the epoch are dropped first, so re-imports are safe.
func (imp *Importer) ImportUniverse(ctx context.Context, epoch uint32, initialTick uint64) error {
	start := time.Now()

	data, archiveSize, err := downloadArchive(ctx, imp.client, imp.baseURL, epoch, "universe.", universeDownloadTimeout)
	if err != nil {
		return err
	}

	snapshots, err := parseUniverse(data, epoch)
	if err != nil {
		return fmt.Errorf("failed to parse universe for epoch %d: %w", epoch, err)
	}

	if err := imp.store.DeleteAssetSnapshots(ctx, epoch); err != nil {
		return err
	}
	if err := imp.store.InsertAssetSnapshots(ctx, snapshots); err != nil {
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
	if err := imp.store.InsertUniverseImport(ctx, marker); err != nil {
		return err
	}

	metrics.SnapshotImports.WithLabelValues("universe").Inc()
	metrics.SnapshotImportDuration.WithLabelValues("universe").Observe(duration.Seconds())
	imp.log.Info().
		Uint32("epoch", epoch).
		Int("assets", len(snapshots)).
		Int64("file_size", archiveSize).
		Dur("duration", duration).
		Msg("Universe imported")
	return nil
}
