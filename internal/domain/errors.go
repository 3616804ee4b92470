package domain

import "errors"

// Таксономия ошибок ядра. Хэндлеры мапят их на HTTP-статусы,
// оркестратор — на терминальные статусы диалогов.
var (
	// ErrUnknownAgent — вызывающий указал роль, которой нет в реестре (ошибка клиента).
	ErrUnknownAgent = errors.New("unknown agent role")

	// ErrQuotaExceeded — upstream временно недоступен по квоте.
	// Повторять имеет смысл только после истечения окна (см. QuotaStatus.ExpiryTime).
	ErrQuotaExceeded = errors.New("llm quota exceeded")

	// ErrUpstreamFailure — не-квотная ошибка reasoning-бэкенда. Не ретраится ядром.
	ErrUpstreamFailure = errors.New("upstream reasoning failure")

	// ErrAlreadyResolved — попытка повторного решения по терминальному Approval.
	ErrAlreadyResolved = errors.New("approval already resolved")

	// ErrInvalidTransition — недопустимый переход конечного автомата.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound — неизвестный id диалога/трейса/заявки.
	ErrNotFound = errors.New("not found")
)
