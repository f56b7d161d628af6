package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"landflow/internal/lock"
	"landflow/internal/mailer"
	"landflow/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func (f *fixture) addTask(task models.ScheduledTask) uint {
	if task.ClientID == 0 {
		task.ClientID = tenant
	}
	if task.TaskType == "" {
		task.TaskType = models.TaskTypeSendAutomationEmail
	}
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	_ = f.store.CreateScheduledTask(context.Background(), &task)
	return task.ID
}

func TestDelayedEmailDeliveredOnceDue(t *testing.T) {
	f := newFixture(t)
	f.addAutomation(1, TriggerNewLead, models.AutomationActive, `[{"type":"send_email","emailId":7,"delay":3}]`)
	notifier := &recordingNotifier{}
	sched := NewScheduler(f.engine, WithNotifier(notifier))

	f.engine.TriggerAutomations(context.Background(), TriggerNewLead, 123, tenant)
	require.Len(t, f.store.tasks, 1)

	// not due yet
	stats := sched.ProcessScheduledTasks(context.Background())
	assert.Equal(t, 0, stats.Due)
	assert.Equal(t, models.TaskPending, f.store.taskByID(1).Status)

	f.clock.Advance(72*time.Hour - time.Second)
	sched.ProcessScheduledTasks(context.Background())
	assert.Equal(t, models.TaskPending, f.store.taskByID(1).Status)
	f.sender.AssertNotCalled(t, "SendBulkEmails", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	f.sender.On("SendBulkEmails", mock.Anything, "Welcome {{first_name}}", "<p>Hi {{name}}</p>", tenant).
		Return(sent("ana@example.com")).Once()
	f.clock.Advance(2 * time.Second)
	stats = sched.ProcessScheduledTasks(context.Background())

	assert.Equal(t, CycleStats{Due: 1, Completed: 1}, stats)
	task := f.store.taskByID(1)
	assert.Equal(t, models.TaskCompleted, task.Status)
	assert.Equal(t, "email sent to ana@example.com", task.Result)
	require.NotNil(t, task.ExecutedAt)
	assert.Equal(t, f.clock.Now(), *task.ExecutedAt)
	f.sender.AssertExpectations(t)

	// completed tasks are never picked up again
	sched.ProcessScheduledTasks(context.Background())
	f.sender.AssertNumberOfCalls(t, "SendBulkEmails", 1)

	require.Len(t, notifier.tasks, 1)
	assert.Equal(t, models.TaskCompleted, notifier.tasks[0].Status)
	assert.Equal(t, "scheduled_email:7", f.store.logs[len(f.store.logs)-1].ActionTaken)
}

func TestFailedSendMarksTaskFailed(t *testing.T) {
	f := newFixture(t)
	f.addAutomation(1, TriggerNewLead, models.AutomationActive, `[]`)
	id := f.addTask(models.ScheduledTask{
		ReferenceID:   7,
		ReferenceName: `{"automationId":1,"leadId":123,"emailId":7}`,
		ScheduledFor:  epoch.Add(-time.Minute),
	})
	f.sender.On("SendBulkEmails", mock.Anything, mock.Anything, mock.Anything, tenant).
		Return(failed("ana@example.com", "connection refused"))

	stats := NewScheduler(f.engine).ProcessScheduledTasks(context.Background())

	assert.Equal(t, CycleStats{Due: 1, Failed: 1}, stats)
	task := f.store.taskByID(id)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Equal(t, "connection refused", task.Result)
	assert.NotNil(t, task.ExecutedAt)
}

func TestTaskFailuresAreIsolated(t *testing.T) {
	f := newFixture(t)
	f.store.leads[124] = &models.Lead{ID: 124, ClientID: tenant, Email: "boom@example.com"}
	due := epoch.Add(-time.Hour)

	badRef := f.addTask(models.ScheduledTask{ReferenceName: `{not json`, ScheduledFor: due})
	unsupported := f.addTask(models.ScheduledTask{TaskType: "send_sms", ScheduledFor: due})
	missingLead := f.addTask(models.ScheduledTask{ReferenceName: `{"leadId":999,"emailId":7}`, ScheduledFor: due})
	panics := f.addTask(models.ScheduledTask{ReferenceName: `{"leadId":124,"emailId":7}`, ScheduledFor: due})
	good := f.addTask(models.ScheduledTask{ReferenceID: 7, ReferenceName: `{"leadId":123}`, ScheduledFor: due})

	engine := NewEngine(f.store.stores(), funcSender(func(r []mailer.Recipient) []mailer.Result {
		if r[0].Email == "boom@example.com" {
			panic("transport bug")
		}
		return sent(r[0].Email)
	}), f.clock, zap.NewNop())

	stats := NewScheduler(engine).ProcessScheduledTasks(context.Background())

	assert.Equal(t, CycleStats{Due: 5, Completed: 1, Failed: 4}, stats)
	for _, id := range []uint{badRef, unsupported, missingLead, panics} {
		task := f.store.taskByID(id)
		assert.Equal(t, models.TaskFailed, task.Status, "task %d", id)
		assert.NotEmpty(t, task.Result, "task %d", id)
	}
	assert.Contains(t, f.store.taskByID(badRef).Result, "decode task reference")
	assert.Equal(t, "unsupported task type: send_sms", f.store.taskByID(unsupported).Result)
	assert.Contains(t, f.store.taskByID(panics).Result, "transport bug")
	// email id falls back to ReferenceID
	assert.Equal(t, models.TaskCompleted, f.store.taskByID(good).Status)
}

func TestFutureTasksNeverSelected(t *testing.T) {
	f := newFixture(t)
	id := f.addTask(models.ScheduledTask{ReferenceName: `{"leadId":123,"emailId":7}`, ScheduledFor: epoch.Add(time.Second)})

	stats := NewScheduler(f.engine).ProcessScheduledTasks(context.Background())

	assert.Equal(t, 0, stats.Due)
	task := f.store.taskByID(id)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Empty(t, task.ClaimToken)
}

func TestLostClaimIsNotSent(t *testing.T) {
	f := newFixture(t)
	id := f.addTask(models.ScheduledTask{ReferenceName: `{"leadId":123,"emailId":7}`, ScheduledFor: epoch})
	f.store.stolen[id] = true

	stats := NewScheduler(f.engine).ProcessScheduledTasks(context.Background())

	assert.Equal(t, CycleStats{Due: 1}, stats)
	f.sender.AssertNotCalled(t, "SendBulkEmails", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, "someone-else", f.store.taskByID(id).ClaimToken)
}

func TestExpiredClaimMarkedFailed(t *testing.T) {
	f := newFixture(t)
	stale := epoch.Add(-20 * time.Minute)
	fresh := epoch.Add(-5 * time.Minute)
	staleID := f.addTask(models.ScheduledTask{Status: models.TaskClaimed, ClaimedAt: &stale, ScheduledFor: stale})
	freshID := f.addTask(models.ScheduledTask{Status: models.TaskClaimed, ClaimedAt: &fresh, ScheduledFor: fresh})
	notifier := &recordingNotifier{}

	stats := NewScheduler(f.engine, WithClaimLease(15*time.Minute), WithNotifier(notifier)).
		ProcessScheduledTasks(context.Background())

	assert.Equal(t, 1, stats.Expired)
	task := f.store.taskByID(staleID)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Equal(t, "claim lease expired", task.Result)
	assert.Equal(t, models.TaskClaimed, f.store.taskByID(freshID).Status)
	f.sender.AssertNotCalled(t, "SendBulkEmails", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	require.Len(t, notifier.tasks, 1)
	assert.Equal(t, staleID, notifier.tasks[0].ID)
}

func TestExpiryDoesNotOverwriteHolderResult(t *testing.T) {
	f := newFixture(t)
	stale := epoch.Add(-20 * time.Minute)
	id := f.addTask(models.ScheduledTask{Status: models.TaskClaimed, ClaimToken: "holder", ClaimedAt: &stale, ScheduledFor: stale})
	// the holder finishes between the expiry read and its write
	f.store.afterList = func(status string) {
		if status != models.TaskClaimed {
			return
		}
		t := f.store.task(id)
		t.Status = models.TaskCompleted
		t.Result = "email sent to ana@example.com"
	}
	notifier := &recordingNotifier{}

	stats := NewScheduler(f.engine, WithClaimLease(15*time.Minute), WithNotifier(notifier)).
		ProcessScheduledTasks(context.Background())

	assert.Zero(t, stats.Expired)
	task := f.store.taskByID(id)
	assert.Equal(t, models.TaskCompleted, task.Status)
	assert.Equal(t, "email sent to ana@example.com", task.Result)
	assert.Empty(t, notifier.tasks)
}

func TestExpiryRequiresSameClaimToken(t *testing.T) {
	f := newFixture(t)
	stale := epoch.Add(-20 * time.Minute)
	id := f.addTask(models.ScheduledTask{Status: models.TaskClaimed, ClaimToken: "first", ClaimedAt: &stale, ScheduledFor: stale})
	// reclaimed under a new token after the snapshot
	f.store.afterList = func(status string) {
		if status == models.TaskClaimed {
			f.store.task(id).ClaimToken = "second"
		}
	}

	stats := NewScheduler(f.engine, WithClaimLease(15*time.Minute)).ProcessScheduledTasks(context.Background())

	assert.Zero(t, stats.Expired)
	assert.Equal(t, models.TaskClaimed, f.store.taskByID(id).Status)
}

func TestLoadFailureEndsCycle(t *testing.T) {
	f := newFixture(t)
	f.store.tasksErr = errors.New("connection reset")
	sched := NewScheduler(f.engine)

	stats := sched.ProcessScheduledTasks(context.Background())

	assert.Equal(t, CycleStats{}, stats)
	assert.False(t, sched.IsHealthy())
	assert.Equal(t, epoch, sched.LastRunAt())
}

func TestCycleSkippedWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	id := f.addTask(models.ScheduledTask{ReferenceName: `{"leadId":123,"emailId":7}`, ScheduledFor: epoch})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	other := lock.NewRedisLock(rdb, "landflow:scheduler", time.Minute)
	ok, err := other.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	sched := NewScheduler(f.engine, WithLock(lock.NewRedisLock(rdb, "landflow:scheduler", time.Minute)))
	stats := sched.ProcessScheduledTasks(context.Background())

	assert.True(t, stats.Skipped)
	assert.Equal(t, models.TaskPending, f.store.taskByID(id).Status)

	require.NoError(t, other.Release(context.Background()))
	f.sender.On("SendBulkEmails", mock.Anything, mock.Anything, mock.Anything, tenant).Return(sent("ana@example.com"))

	stats = sched.ProcessScheduledTasks(context.Background())
	assert.False(t, stats.Skipped)
	assert.Equal(t, models.TaskCompleted, f.store.taskByID(id).Status)
	// released after the cycle
	assert.False(t, mr.Exists("lock:landflow:scheduler"))
}

func TestSchedulerStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := newMemStore()
	engine := NewEngine(st.stores(), &mockSender{}, nil, zap.NewNop())
	sched := NewScheduler(engine, WithInterval(time.Second))

	require.NoError(t, sched.Start())
	assert.ErrorIs(t, sched.Start(), ErrSchedulerRunning)

	require.Eventually(t, func() bool {
		return !sched.LastRunAt().IsZero()
	}, 5*time.Second, 50*time.Millisecond)
	assert.True(t, sched.IsHealthy())

	sched.Stop()
	sched.Stop()

	// restartable after stop
	require.NoError(t, sched.Start())
	sched.Stop()
}
