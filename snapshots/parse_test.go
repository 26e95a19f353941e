package snapshots

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/qubic-explorer-core/identity"
	"github.com/withObsrvr/qubic-explorer-core/store"
)

func testPubKey(seed byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = seed + byte(i)
	}
	key[0] = seed | 1 // never all-zero
	return key
}

func spectrumRecord(pubKey []byte, incoming, outgoing int64, nIn, nOut, latestIn, latestOut uint32) []byte {
	record := make([]byte, spectrumRecordSize)
	copy(record[0:32], pubKey)
	binary.LittleEndian.PutUint64(record[32:40], uint64(incoming))
	binary.LittleEndian.PutUint64(record[40:48], uint64(outgoing))
	binary.LittleEndian.PutUint32(record[48:52], nIn)
	binary.LittleEndian.PutUint32(record[52:56], nOut)
	binary.LittleEndian.PutUint32(record[56:60], latestIn)
	binary.LittleEndian.PutUint32(record[60:64], latestOut)
	return record
}

func TestParseSpectrum(t *testing.T) {
	keyA := testPubKey(0x10)
	keyB := testPubKey(0x20)

	var data []byte
	data = append(data, spectrumRecord(keyA, 5000, 1500, 12, 3, 100, 90)...)
	data = append(data, make([]byte, spectrumRecordSize)...) // empty slot, dropped
	data = append(data, spectrumRecord(keyB, 700, 700, 2, 2, 50, 60)...)

	snapshots, err := parseSpectrum(data, 120)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)

	addrA, err := identity.FromPublicKey(keyA)
	require.NoError(t, err)

	a := snapshots[0]
	assert.Equal(t, uint32(120), a.Epoch)
	assert.Equal(t, addrA, a.Address)
	assert.Equal(t, int64(3500), a.Balance)
	assert.Equal(t, uint32(12), a.NumIncoming)
	assert.Equal(t, uint32(100), a.LatestIncomingTick)

	// incoming == outgoing yields a zero balance but the account is kept
	b := snapshots[1]
	assert.Equal(t, int64(0), b.Balance)
}

func TestParseSpectrumRejectsTruncated(t *testing.T) {
	_, err := parseSpectrum(make([]byte, spectrumRecordSize-1), 120)
	assert.Error(t, err)
}

func issuanceRecord(pubKey []byte, name string, decimals int8) []byte {
	record := make([]byte, universeRecordSize)
	copy(record[0:32], pubKey)
	record[32] = universeTypeIssuance
	copy(record[33:40], name)
	record[40] = byte(decimals)
	return record
}

func holdingRecord(recordType byte, pubKey []byte, contractIndex uint16, refIndex uint32, shares int64) []byte {
	record := make([]byte, universeRecordSize)
	copy(record[0:32], pubKey)
	record[32] = recordType
	binary.LittleEndian.PutUint16(record[34:36], contractIndex)
	binary.LittleEndian.PutUint32(record[36:40], refIndex)
	binary.LittleEndian.PutUint64(record[40:48], uint64(shares))
	return record
}

func TestParseUniverseThreePass(t *testing.T) {
	issuerKey := testPubKey(0x30)
	ownerKey := testPubKey(0x40)
	possessorKey := testPubKey(0x50)

	var data []byte
	data = append(data, issuanceRecord(issuerKey, "QX\x00\x00\x00\x00\x00", 0)...)                // index 0
	data = append(data, holdingRecord(universeTypeOwnership, ownerKey, 1, 0, 500)...)             // index 1 -> issuance 0
	data = append(data, holdingRecord(universeTypePossession, possessorKey, 1, 1, 500)...)        // index 2 -> ownership 1
	data = append(data, holdingRecord(universeTypeOwnership, ownerKey, 1, 99, 10)...)             // index 3: dangling issuance
	data = append(data, holdingRecord(universeTypePossession, possessorKey, 1, 3, 10)...)         // index 4 -> dangling ownership chain
	data = append(data, holdingRecord(universeTypePossession, possessorKey, 1, 77, 10)...)        // index 5: dangling ownership

	snapshots, err := parseUniverse(data, 120)
	require.NoError(t, err)

	byType := make(map[string][]store.AssetSnapshot)
	for _, s := range snapshots {
		byType[s.RecordType] = append(byType[s.RecordType], s)
	}

	require.Len(t, byType[store.AssetRecordIssuance], 1)
	require.Len(t, byType[store.AssetRecordOwnership], 1)
	require.Len(t, byType[store.AssetRecordPossession], 1)

	issuerAddr, err := identity.FromPublicKey(issuerKey)
	require.NoError(t, err)
	ownerAddr, err := identity.FromPublicKey(ownerKey)
	require.NoError(t, err)

	iss := byType[store.AssetRecordIssuance][0]
	assert.Equal(t, "QX", iss.AssetName)
	assert.Equal(t, issuerAddr, iss.Issuer)

	own := byType[store.AssetRecordOwnership][0]
	assert.Equal(t, "QX", own.AssetName)
	assert.Equal(t, ownerAddr, own.Holder)
	assert.Equal(t, int64(500), own.NumberOfShares)
	assert.Equal(t, uint16(1), own.ManagingContractIndex)

	pos := byType[store.AssetRecordPossession][0]
	assert.Equal(t, "QX", pos.AssetName)
	assert.Equal(t, issuerAddr, pos.Issuer)
}

func TestArchiveURL(t *testing.T) {
	url := archiveURL("https://storage.qubic.li/network", 155)
	assert.Equal(t, "https://storage.qubic.li/network/155/ep155-bob.zip", url)

	url = archiveURL("https://storage.qubic.li/network/", 7)
	assert.Equal(t, "https://storage.qubic.li/network/7/ep7-bob.zip", url)
}
