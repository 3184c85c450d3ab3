package domain

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ApplauseCategory は拍手数の復号結果に使うカテゴリ名。
const ApplauseCategory = "applause"

// Work はレジャー上の作品を表す。
type Work struct {
	ID             uint64
	Contributor    common.Address
	Title          string
	SynopsisHash   string
	ContentHash    string
	Tags           []string
	Genres         []string
	Timestamp      time.Time
	ApplauseHandle Handle
}

// IsContributedBy は作品が指定アドレスによる投稿かどうかを返す。
func (w *Work) IsContributedBy(addr common.Address) bool {
	return w.Contributor == addr
}

// WorkSubmission は作品投稿の入力値。
type WorkSubmission struct {
	Title        string
	SynopsisHash string
	ContentHash  string
	Tags         []string
	Genres       []string
}

// Normalize は前後の空白を除去し、空要素を取り除く。
func (s WorkSubmission) Normalize() WorkSubmission {
	return WorkSubmission{
		Title:        strings.TrimSpace(s.Title),
		SynopsisHash: strings.TrimSpace(s.SynopsisHash),
		ContentHash:  strings.TrimSpace(s.ContentHash),
		Tags:         compact(s.Tags),
		Genres:       compact(s.Genres),
	}
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// TxReceipt は書き込み完了後のトランザクション情報。
type TxReceipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	WorkID      uint64
}
