package agent

import "github.com/xela07ax/erpai-decision-prototype/internal/domain"

// Registry — таблица роль -> агент. Заполняется один раз на старте процесса
// и дальше только читается, поэтому блокировок нет. Единственный владелец
// записей — оркестратор; агенты по ролям не дублируются.
type Registry struct {
	agents map[string]*Agent
	order  []string // порядок регистрации для стабильного листинга
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Register добавляет агента. Вызывается только при сборке процесса;
// повторная регистрация роли — ошибка конфигурации, побеждает первая.
func (r *Registry) Register(a *Agent) {
	if _, exists := r.agents[a.Role()]; exists {
		return
	}
	r.agents[a.Role()] = a
	r.order = append(r.order, a.Role())
}

func (r *Registry) Lookup(role string) (*Agent, bool) {
	a, ok := r.agents[role]
	return a, ok
}

// All возвращает метаданные всех агентов в порядке регистрации.
func (r *Registry) All() []domain.AgentInfo {
	infos := make([]domain.AgentInfo, 0, len(r.order))
	for _, role := range r.order {
		infos = append(infos, r.agents[role].Info())
	}
	return infos
}
