package services

import (
	"errors"
	"net/http"

	"github.com/SoftInstigate/restheart-sub016/internal/handlers"
	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// PluginView 是插件在自省接口中的展示形式。
type PluginView struct {
	Name           string                `json:"name"`
	Description    string                `json:"description,omitempty"`
	Priority       int                   `json:"priority"`
	Route          string                `json:"uri,omitempty"`
	Secure         *bool                 `json:"secured,omitempty"`
	Point          plugin.InterceptPoint `json:"interceptPoint,omitempty"`
	InitPoint      plugin.InitPoint      `json:"initPoint,omitempty"`
	AuthorizerType plugin.AuthorizerType `json:"authorizerType,omitempty"`
	ProvidedType   string                `json:"providedType,omitempty"`
}

// ExcludedView 描述一个在启动时被排除的插件。
type ExcludedView struct {
	Kind  plugin.Kind `json:"kind"`
	Name  string      `json:"name"`
	Code  string      `json:"code"`
	Error string      `json:"error"`
}

// Plugins 列出当前注册表快照中的插件。GET /plugins/<kind> 只返回该类插件。
type Plugins struct {
	handle plugin.Handle
}

// Inject 接收注册表句柄。
func (s *Plugins) Inject(_ plugin.InjectionPoint, value any) error {
	h, ok := value.(plugin.Handle)
	if !ok {
		return errors.New("plugins service requires a registry handle")
	}
	s.handle = h
	return nil
}

func (s *Plugins) Handle(ex *exchange.Exchange) error {
	if !allowMethods(ex, http.MethodGet, http.MethodHead) {
		return nil
	}
	reg := s.handle.Current()
	kinds := plugin.Kinds()
	if sub := subpath(ex); sub != "" {
		kind, err := plugin.ParseKind(sub)
		if err != nil {
			ex.SetInError(http.StatusNotFound, err.Error())
			return nil
		}
		kinds = []plugin.Kind{kind}
	}

	live := make(map[plugin.Kind][]PluginView, len(kinds))
	for _, kind := range kinds {
		views := []PluginView{}
		for _, rec := range reg.All(kind) {
			views = append(views, viewOf(rec))
		}
		live[kind] = views
	}
	excluded := []ExcludedView{}
	for _, d := range reg.Diagnostics() {
		excluded = append(excluded, ExcludedView{Kind: d.Kind, Name: d.Name, Code: string(d.Code()), Error: d.Err.Error()})
	}
	return ex.WriteJSON(http.StatusOK, map[string]any{"plugins": live, "excluded": excluded})
}

func viewOf(rec *plugin.Record) PluginView {
	d := rec.Descriptor
	v := PluginView{
		Name:           rec.Name,
		Description:    rec.Description,
		Priority:       rec.Priority(),
		InitPoint:      d.InitPoint,
		AuthorizerType: d.AuthorizerType,
		ProvidedType:   d.ProvidedType,
	}
	switch rec.Kind() {
	case plugin.KindService:
		secure := handlers.Secure(rec)
		v.Route = handlers.Route(rec)
		v.Secure = &secure
	case plugin.KindInterceptor:
		v.Point = d.Point
	}
	return v
}
