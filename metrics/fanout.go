package metrics

import "fastsd/session"

// Fanout forwards controller and dispatcher events to several observers.
// Members that do not implement session.DispatchObserver are skipped for
// rejections.
type Fanout []session.Observer

// ObserveInit implements session.Observer.
func (f Fanout) ObserveInit(opts session.InitOptions, err error) {
	for _, o := range f {
		o.ObserveInit(opts, err)
	}
}

// ObserveGeneration implements session.Observer.
func (f Fanout) ObserveGeneration(settings session.GenerationSettings, res session.Result) {
	for _, o := range f {
		o.ObserveGeneration(settings, res)
	}
}

// ObserveRejection implements session.DispatchObserver.
func (f Fanout) ObserveRejection(kind session.ErrorKind) {
	for _, o := range f {
		if d, ok := o.(session.DispatchObserver); ok {
			d.ObserveRejection(kind)
		}
	}
}
