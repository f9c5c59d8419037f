package replica

import (
	"slices"
	"strconv"

	"github.com/iudanet/gophcollab/internal/pathstore"
)

// ProposalPath зарезервированный адрес предложения голосования
const ProposalPath = "$.collaboration.proposal"

// TransferFilter определяет, какие поля состояния задачи реплицируются.
// Передаются поля с именем fieldValue или из Keys, поля внутри ключей *ByUser
// и предложение голосования.
type TransferFilter struct {
	Keys []string
}

// DefaultFilter фильтр по умолчанию
func DefaultFilter() TransferFilter {
	return TransferFilter{Keys: []string{"fieldValue"}}
}

var proposalPath = pathstore.MustParse(ProposalPath)

// Allows сообщает, реплицируется ли конкретный адрес
func (f TransferFilter) Allows(p pathstore.Path) bool {
	if !p.IsConcrete() || p.Len() == 0 {
		return false
	}
	if p.Equal(proposalPath) {
		return true
	}
	if last, ok := p.LastKey(); ok && (last == "fieldValue" || slices.Contains(f.Keys, last)) {
		return true
	}
	return p.HasKeyContaining("ByUser")
}

// Fields обходит дерево и возвращает реплицируемые значения по адресам.
// Внутрь разрешенного адреса обход не спускается; nil значения пропускаются.
func (f TransferFilter) Fields(tree map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(p pathstore.Path, node any)
	walk = func(p pathstore.Path, node any) {
		if p.Len() > 0 && f.Allows(p) {
			if node != nil {
				out[replicationKey(p)] = node
			}
			return
		}
		switch v := node.(type) {
		case map[string]any:
			for key, child := range v {
				walk(p.Child(key), child)
			}
		case []any:
			for i, child := range v {
				walk(p.Child(strconv.Itoa(i)), child)
			}
		}
	}
	walk(pathstore.Path{}, tree)
	return out
}

// replicationKey ключ документа для адреса. Индексы записываются как ключи,
// чтобы "$.nodes[2]" и "$.nodes.2" давали один ключ.
func replicationKey(p pathstore.Path) string {
	var key pathstore.Path
	for _, seg := range p.Segments() {
		if seg.Kind == pathstore.KindIndex {
			key = key.Child(strconv.Itoa(seg.Index))
			continue
		}
		key = key.Child(seg.Key)
	}
	return key.String()
}
