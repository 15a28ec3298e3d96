package domain

// Actor — тот, от чьего имени выполняется операция.
type Actor struct {
	ID       string
	Operator bool
}

// SystemActor используется фоновыми задачами (sweeper и т.п.).
var SystemActor = Actor{ID: "system", Operator: true}

// CanAccess разрешает доступ владельцу ресурса или оператору.
func (a Actor) CanAccess(ownerID string) bool {
	if a.Operator {
		return true
	}
	return a.ID != "" && a.ID == ownerID
}

// Authorize возвращает ErrActorRequired / ErrForbidden, если доступа нет.
func (a Actor) Authorize(ownerID string) error {
	if a.ID == "" {
		return ErrActorRequired
	}
	if !a.CanAccess(ownerID) {
		return ErrForbidden
	}
	return nil
}

// RequireOperator пропускает только операторов.
func (a Actor) RequireOperator() error {
	if a.ID == "" {
		return ErrActorRequired
	}
	if !a.Operator {
		return ErrForbidden
	}
	return nil
}
