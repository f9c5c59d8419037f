package grouping

import (
	"sort"

	"github.com/iudanet/gophcollab/internal/models"
)

// PlanSizes раскладывает n участников по группам из 3 и 4 человек.
// Предпочтение группам из 4; группы из 3 поглощают остаток:
// n mod 4 = 0 -> только четверки, 3 -> одна тройка, 2 -> две тройки, 1 -> три тройки.
// Если разложить всех нельзя (n = 1, 2, 5), размещается максимум участников,
// остальные (не больше двух) остаются в ожидании.
// Возвращает размеры групп (сначала четверки) и количество оставшихся.
func PlanSizes(n int) ([]int, int) {
	if n < models.MinGroupSize {
		return nil, max(n, 0)
	}

	fours, threes, leftover := n/4, 0, 0
	switch n % 4 {
	case 3:
		threes = 1
	case 2:
		if n >= 6 {
			fours -= 1
			threes = 2
		} else {
			leftover = 2
		}
	case 1:
		if n >= 9 {
			fours -= 2
			threes = 3
		} else {
			// n = 5: одна четверка и один ожидающий
			leftover = 1
		}
	}

	sizes := make([]int, 0, fours+threes)
	for i := 0; i < fours; i++ {
		sizes = append(sizes, models.MaxGroupSize)
	}
	for i := 0; i < threes; i++ {
		sizes = append(sizes, models.MinGroupSize)
	}
	return sizes, leftover
}

// PlanDistribution план распределения для ожидаемого числа участников.
func PlanDistribution(total int) (groups3, groups4 int) {
	sizes, _ := PlanSizes(total)
	for _, s := range sizes {
		if s == models.MaxGroupSize {
			groups4++
		} else {
			groups3++
		}
	}
	return groups3, groups4
}

// Partition результат разбиения пула.
type Partition struct {
	Groups  [][]models.WaitingParticipant // Groups участники каждой группы в порядке вставки
	Pending []models.WaitingParticipant   // Pending участники, оставшиеся в ожидании
}

// FormGroups разбивает пул по размерам sizes.
// Размещаются самые ранние участники; остальные остаются в ожидании.
// Внутри размещенных участники распределяются змейкой по убыванию score,
// чтобы средний уровень групп был близок. Внутри группы порядок - по времени вставки,
// первый участник получит роль спикера.
func FormGroups(pool []models.WaitingParticipant, sizes []int) Partition {
	ordered := make([]models.WaitingParticipant, len(pool))
	copy(ordered, pool)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	capacity := 0
	for _, s := range sizes {
		capacity += s
	}
	if capacity > len(ordered) {
		// Нельзя заполнить план - ничего не формируем
		return Partition{Pending: ordered}
	}

	placed := make([]models.WaitingParticipant, capacity)
	copy(placed, ordered[:capacity])
	pending := ordered[capacity:]

	// Сначала спикеры: самые ранние участники по одному в каждую группу
	groups := make([][]models.WaitingParticipant, len(sizes))
	for i := range groups {
		groups[i] = make([]models.WaitingParticipant, 0, sizes[i])
	}
	rest := placed
	if len(sizes) > 0 {
		for i := range sizes {
			groups[i] = append(groups[i], placed[i])
		}
		rest = placed[len(sizes):]
	}

	// Остальные змейкой по убыванию score
	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].Score != rest[j].Score {
			return rest[i].Score > rest[j].Score
		}
		return rest[i].Order < rest[j].Order
	})

	forward := true
	idx := 0
	for _, p := range rest {
		// Пропускаем заполненные группы
		for tries := 0; len(groups[idx]) >= sizes[idx] && tries < len(groups)*2; tries++ {
			idx, forward = nextSnake(idx, forward, len(groups))
		}
		groups[idx] = append(groups[idx], p)
		idx, forward = nextSnake(idx, forward, len(groups))
	}

	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool { return g[i].Order < g[j].Order })
	}

	return Partition{Groups: groups, Pending: append([]models.WaitingParticipant(nil), pending...)}
}

// nextSnake следующий индекс при обходе змейкой 0,1,..,n-1,n-1,..,0,0,1,..
func nextSnake(idx int, forward bool, n int) (int, bool) {
	if n <= 1 {
		return 0, forward
	}
	if forward {
		if idx == n-1 {
			return idx, false
		}
		return idx + 1, true
	}
	if idx == 0 {
		return idx, true
	}
	return idx - 1, false
}
