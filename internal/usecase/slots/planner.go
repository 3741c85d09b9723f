package slots

import (
	"sort"
	"time"

	"tg-news-relay/internal/domain"
)

// Next возвращает ближайший свободный слот публикации после now.
//
// Кандидаты строятся из часов hours на сегодня (только будущие),
// затем на следующие дни теми же часами, без ограничения глубины
// поиска. Слот считается занятым при точном совпадении момента
// с одним из occupied. Функция детерминирована и не имеет состояния:
// повторный вызов с тем же снимком occupied возвращает тот же слот.
//
// Срочные новости сюда не попадают: их время публикации всегда «сейчас».
func Next(now time.Time, occupied []time.Time, hours []int, loc *time.Location) (time.Time, error) {
	if len(hours) == 0 {
		return time.Time{}, domain.ErrEmptySchedule
	}
	if loc == nil {
		loc = now.Location()
	}

	sorted := make([]int, len(hours))
	copy(sorted, hours)
	sort.Ints(sorted)

	taken := make(map[int64]struct{}, len(occupied))
	for _, t := range occupied {
		taken[t.Unix()] = struct{}{}
	}

	local := now.In(loc)
	// Поиск завершается всегда: occupied конечно, а каждый следующий
	// день добавляет len(hours) новых кандидатов.
	for day := 0; ; day++ {
		base := local.AddDate(0, 0, day)
		for _, hour := range sorted {
			slot := time.Date(base.Year(), base.Month(), base.Day(), hour, 0, 0, 0, loc)
			if !slot.After(local) {
				continue
			}
			if _, busy := taken[slot.Unix()]; busy {
				continue
			}
			return slot, nil
		}
	}
}

// NextAny возвращает ближайший слот без учёта занятости —
// «время следующей публикации» для команды /status.
func NextAny(now time.Time, hours []int, loc *time.Location) (time.Time, error) {
	return Next(now, nil, hours, loc)
}
