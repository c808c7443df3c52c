package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/zstd"

	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
	"github.com/dougwmorrow/open-sc/internal/domain/engine"
)

// CompressionAlgo specifies the compression applied to an archived payload.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// Compile-time check that ArchiveRepo implements engine.ArchiveStore.
var _ engine.ArchiveStore = (*ArchiveRepo)(nil)

// ArchiveRepo journals raw batch payloads so an applied batch can be audited
// or replayed against a rebuilt version table. Payloads above the threshold
// are zstd-compressed; change batches compress well, attribute names repeat
// on every record.
type ArchiveRepo struct {
	txm               *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

// NewArchiveRepo creates the batch archive.
func NewArchiveRepo(txm *TxManager) (*ArchiveRepo, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &ArchiveRepo{
		txm:               txm,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: 4 * 1024,
	}, nil
}

// SaveBatch stores the raw payload under the batch id.
func (r *ArchiveRepo) SaveBatch(ctx context.Context, batch dimension.Batch, payload []byte) error {
	algo := CompressionNone
	stored := payload
	if len(payload) > r.compressThreshold {
		stored = r.encoder.EncodeAll(payload, nil)
		algo = CompressionZstd
	}

	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_batch_archive (batch_id, batch_ts, source_watermark, payload, compression_algo, payload_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (batch_id) DO NOTHING
	`, batch.ID, batch.Timestamp, batch.SourceWatermark, stored, algo, len(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("archive batch: %w", err)
	}
	return nil
}

// LoadBatch returns the decompressed payload of an archived batch, nil when
// the batch was never archived.
func (r *ArchiveRepo) LoadBatch(ctx context.Context, batchID string) ([]byte, error) {
	var (
		payload []byte
		algo    CompressionAlgo
	)
	err := r.txm.GetQuerier(ctx).QueryRow(ctx,
		`SELECT payload, compression_algo FROM sys_batch_archive WHERE batch_id = $1`, batchID,
	).Scan(&payload, &algo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load archived batch: %w", err)
	}

	if algo == CompressionZstd {
		decompressed, err := r.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress payload: %w", err)
		}
		return decompressed, nil
	}
	return payload, nil
}
