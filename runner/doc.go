// Package runner drives one task through a hierarchy of handoff groups.
//
// A GroupChatRunner owns three fixed topics. The task is published to
// USER_PROXY, where a proxy agent forwards it into the group currently in
// charge (the master group at first). Every group's proxy sends its
// responses back to USER_PROXY, which relays them to OUTPUT_TASK where the
// runner collects them. TASK_RUNNER reaches every proxy and carries resets.
//
// A run ends when the bus is idle:
//
//	r, _ := runner.New(runtime.New(), front, []*group.Group{billing})
//	res, err := r.Run(ctx, "Why was I charged twice?")
//	fmt.Println(res.StopReason, res.Text())
//
// RunStream yields each collected response as it arrives and the TaskResult
// last.
package runner
