package ledger

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"wisefido-attendance/internal/models"

	"go.uber.org/zap"
)

// Hasher 账本哈希函数
// 算法必须与设备端账本生成一致，通过配置选择
type Hasher struct {
	algorithm string
}

// NewHasher 创建哈希函数（支持 sha256、sha1）
func NewHasher(algorithm string) (*Hasher, error) {
	switch algorithm {
	case "sha256", "sha1":
		return &Hasher{algorithm: algorithm}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %q", algorithm)
	}
}

// Sum 计算 H(prevHash ‖ payload) 的十六进制摘要
func (h *Hasher) Sum(prevHash string, payload []byte) string {
	data := make([]byte, 0, len(prevHash)+len(payload))
	data = append(data, prevHash...)
	data = append(data, payload...)

	if h.algorithm == "sha1" {
		sum := sha1.Sum(data)
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChainReport 哈希链校验结果
type ChainReport struct {
	IsValid         bool
	FailedSequences []int64
	// ResyncPoints 自洽但与前序链断开的条目序列号，
	// 标记两点之间发生过篡改或设备更换，需人工排查
	ResyncPoints  []int64
	LastValidHash string
}

// ChainValidator 哈希链校验器
type ChainValidator struct {
	hasher *Hasher
	logger *zap.Logger
}

// NewChainValidator 创建哈希链校验器
func NewChainValidator(hasher *Hasher, logger *zap.Logger) *ChainValidator {
	return &ChainValidator{
		hasher: hasher,
		logger: logger,
	}
}

// Verify 按序校验每个条目的哈希链
// 对每个条目重算 expected = H(prev_hash ‖ payload)：
//   - expected != hash：记入 FailedSequences，继续扫描（批次内所有失败都要上报）
//   - 条目自洽但 prev_hash 与上一个已校验哈希不一致：记为 resync 点，不算失败
//
// lastKnownHash 为空表示首次运行，第一个条目的 prev_hash 按原样接受
func (v *ChainValidator) Verify(entries []models.LedgerEntry, lastKnownHash string) ChainReport {
	report := ChainReport{
		IsValid:       true,
		LastValidHash: lastKnownHash,
	}

	chainHash := lastKnownHash
	for _, entry := range entries {
		expected := v.hasher.Sum(entry.PrevHash, entry.Payload)
		if expected != entry.Hash {
			report.FailedSequences = append(report.FailedSequences, entry.Sequence)
			v.logger.Warn("Hash chain verification failed",
				zap.Int64("sequence", entry.Sequence),
				zap.String("device_id", entry.DeviceID),
				zap.String("expected", expected),
				zap.String("stored", entry.Hash),
			)
			// 失败条目不推进链哈希，后续条目仍按自身链接各自校验
			continue
		}

		if chainHash != "" && entry.PrevHash != chainHash {
			report.ResyncPoints = append(report.ResyncPoints, entry.Sequence)
			v.logger.Warn("Hash chain resync point detected",
				zap.Int64("sequence", entry.Sequence),
				zap.String("device_id", entry.DeviceID),
				zap.String("stated_prev_hash", entry.PrevHash),
				zap.String("chain_hash", chainHash),
			)
		}

		chainHash = entry.Hash
		report.LastValidHash = entry.Hash
	}

	report.IsValid = len(report.FailedSequences) == 0
	return report
}
