/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type mockUnit struct {
	name           string
	runningCounter *atomic.Int32
	stop           chan bool
	stopWithError  bool

	startCalled               int
	stopCalled                int
	stopGracefullyCalled      int
	mustRegisterMetricsCalled int
	unregisterMetricsCalled   int
}

func newMockUnit(name string, runningCounter *atomic.Int32, stopWithError bool) *mockUnit {
	return &mockUnit{
		name:           name,
		runningCounter: runningCounter,
		stop:           make(chan bool),
		stopWithError:  stopWithError,
	}
}

func (s *mockUnit) Start(fatalError chan<- error) {
	s.startCalled++
	s.runningCounter.Inc()
	<-s.stop
}

func (s *mockUnit) Stop(gracefully bool) error {
	s.stopCalled++
	if gracefully {
		s.stopGracefullyCalled++
	}
	defer func() {
		s.stop <- true
		s.runningCounter.Dec()
	}()
	if s.stopWithError {
		return fmt.Errorf("%s: internal error", s.name)
	}
	return nil
}

func (s *mockUnit) MustRegisterMetrics() {
	s.mustRegisterMetricsCalled++
}

func (s *mockUnit) UnregisterMetrics() {
	s.unregisterMetricsCalled++
}

// brokenUnit fails to start right away and has nothing to stop.
type brokenUnit struct {
	err error
}

func (u *brokenUnit) Start(fatalError chan<- error) {
	fatalError <- u.err
}

func (u *brokenUnit) Stop(gracefully bool) error {
	return nil
}

func makeCompositeUnit(n int, runningCounter *atomic.Int32, stopWithErrorsFunc func(index int) bool) *CompositeUnit {
	if stopWithErrorsFunc == nil {
		stopWithErrorsFunc = func(_ int) bool { return false }
	}
	var units []Unit
	for i := 0; i < n; i++ {
		units = append(units, newMockUnit(fmt.Sprintf("unit#%d", i), runningCounter, stopWithErrorsFunc(i)))
	}
	return NewCompositeUnit(units...)
}

func TestCompositeUnit_StartAndStop(t *testing.T) {
	t.Run("all units start and stop cleanly", func(t *testing.T) {
		const unitsNum = 100
		var runningCounter atomic.Int32

		compositeUnit := makeCompositeUnit(unitsNum, &runningCounter, nil)

		startExit := make(chan bool)
		go func() {
			defer func() { startExit <- true }()
			compositeUnit.Start(make(chan error))
		}()

		require.Eventually(t, func() bool { return runningCounter.Load() == unitsNum },
			time.Millisecond*unitsNum*10, time.Millisecond*10, "%d units should be started", unitsNum)

		require.NoError(t, compositeUnit.Stop(true), "there should be no error in stop")
		require.Equal(t, 0, int(runningCounter.Load()), "there should be no running units")
		select {
		case <-time.NewTimer(time.Millisecond * unitsNum * 10).C:
			require.Fail(t, "waiting finish of Start() is timed out")
		case <-startExit:
		}
	})

	t.Run("stop errors are collected", func(t *testing.T) {
		const unitsStopWithErrorNum = 60
		const unitsStopWOErrorNum = 40
		const unitsNum = unitsStopWithErrorNum + unitsStopWOErrorNum

		var runningCounter atomic.Int32

		compositeUnit := makeCompositeUnit(unitsNum, &runningCounter,
			func(index int) bool { return index < unitsStopWithErrorNum })

		startExit := make(chan bool)
		go func() {
			defer func() { startExit <- true }()
			compositeUnit.Start(make(chan error))
		}()

		require.Eventually(t, func() bool { return runningCounter.Load() == unitsNum },
			time.Millisecond*unitsNum*10, time.Millisecond*10, "%d units should be started", unitsNum)

		err := compositeUnit.Stop(true)
		require.Error(t, err, "there should be error in stop")

		var cuErr *CompositeUnitError
		require.True(t, errors.As(err, &cuErr))
		require.Equal(t, unitsStopWithErrorNum, len(cuErr.UnitErrors),
			"%d units should be stopped with error", unitsStopWithErrorNum)
		require.Equal(t, 0, int(runningCounter.Load()), "there should be no running units")
		select {
		case <-time.NewTimer(time.Millisecond * unitsNum * 10).C:
			require.Fail(t, "waiting finish of Start() is timed out")
		case <-startExit:
		}
	})

	t.Run("unit failing to start stops the others", func(t *testing.T) {
		const healthyUnitsNum = 10
		var runningCounter atomic.Int32

		compositeUnit := makeCompositeUnit(healthyUnitsNum, &runningCounter, nil)
		startFailedErr := errors.New("start failed")
		compositeUnit.Units = append(compositeUnit.Units, &brokenUnit{err: startFailedErr})

		fatalErr := make(chan error, 1)
		startExit := make(chan bool)
		go func() {
			defer func() { startExit <- true }()
			compositeUnit.Start(fatalErr)
		}()

		select {
		case <-time.NewTimer(time.Second * 3).C:
			require.Fail(t, "waiting finish of Start() is timed out")
		case <-startExit:
		}

		var cuErr *CompositeUnitError
		require.True(t, errors.As(<-fatalErr, &cuErr))
		require.Len(t, cuErr.UnitErrors, 1)
		require.ErrorIs(t, cuErr.UnitErrors[0], startFailedErr)
		require.Equal(t, 0, int(runningCounter.Load()), "there should be no running units")
	})
}
