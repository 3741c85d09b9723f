package domain

import "errors"

// Детерминированные ошибки ядра: возвращаются вызывающему сразу
// и никогда не повторяются автоматически.
var (
	// ErrDuplicateURL возвращается при повторной подаче уже известного URL,
	// независимо от статуса существующей записи.
	ErrDuplicateURL = errors.New("новость с таким URL уже есть в очереди")
	// ErrNotFound возвращается для неизвестного ID новости или ключа настройки.
	ErrNotFound = errors.New("запись не найдена")
	// ErrInvalidState возвращается при попытке недопустимого перехода статуса.
	ErrInvalidState = errors.New("недопустимый переход статуса")
	// ErrEmptySchedule возвращается, если список часов публикации пуст.
	ErrEmptySchedule = errors.New("расписание публикаций пусто")
	// ErrInvalidSetting возвращается при значении, не проходящем валидацию ключа.
	ErrInvalidSetting = errors.New("недопустимое значение настройки")
)

// ErrStoreTimeout помечает временную ошибку хранилища: таймаут или обрыв
// соединения. Вызывающий может повторить операцию с backoff.
var ErrStoreTimeout = errors.New("хранилище не ответило вовремя")
