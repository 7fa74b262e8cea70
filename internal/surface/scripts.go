package surface

// Canned expressions evaluated on the remote page. Each returns a JSON value
// matching the snapshot structs in this package. Selector details are opaque
// to the rest of the system; only the returned shape is contractual.

// scriptBootstrap defines the probe helper. It only reads the DOM and clicks
// existing elements; selection and scoring decisions stay on the Go side.
const scriptBootstrap = `(() => {
  const text = el => (el && el.innerText || '').trim();
  const vis = el => !!(el && el.offsetParent !== null);
  const all = sel => Array.from(document.querySelectorAll(sel)).filter(vis);
  globalThis.__relayProbe = {
    dialogs: () => all('[role=dialog],[role=alertdialog],.notification-toast').map(d => ({
      kind: d.getAttribute('role') === 'alertdialog' || d.className.includes('error') ? 'error' : 'prompt',
      title: text(d.querySelector('h1,h2,h3,.title,.dialog-title')),
      body: text(d.querySelector('p,.body,.dialog-body,.message')),
      buttons: all('button').filter(b => d.contains(b)).map(b => ({label: text(b), inMenu: false})),
    })),
    buttons: () => all('button,a[role=button]').map(b => ({label: text(b), inMenu: !!b.closest('[role=menu]')})),
    responseBlocks: () => all('[data-message-role],.rendered-markdown,.response-container,.tool-output,.feedback-row').map((b, i) => ({
      container: b.dataset.messageRole || b.className.split(' ')[0] || 'unknown',
      index: i,
      text: text(b),
    })),
    processLog: () => all('.process-log-entry,.activity-line').map(text),
    latestUserMessage: () => { const m = all('[data-message-role=user]'); return m.length ? text(m[m.length - 1]) : ''; },
    isGenerating: () => all('button').some(b => /^(stop|cancel)$/i.test(text(b))),
    quotaExhausted: () => all('.notification-toast,[role=alert]').some(n => /quota|rate limit|usage limit/i.test(text(n))),
    clickButton: label => { const norm = s => s.toLowerCase().replace(/\s+/g, ' ').trim();
      const b = all('button,a[role=button]').find(b => norm(text(b)) === norm(label));
      if (b) b.click(); return !!b; },
    expandMoreOptions: () => { const b = all('button[aria-haspopup=true],button[aria-label*=options i]')[0];
      if (b) b.click(); return !!b; },
    clickStop: () => { const b = all('button').find(b => /^(stop|cancel)$/i.test(text(b)));
      if (b) b.click(); return !!b; },
    insertPrompt: t => { const input = document.querySelector('textarea,.chat-input [contenteditable=true]');
      if (!input) return; input.focus();
      document.execCommand('insertText', false, t);
      input.dispatchEvent(new KeyboardEvent('keydown', {key: 'Enter', bubbles: true})); },
  };
  return true;
})()`

const (
	scriptDialogs = `(() => globalThis.__relayProbe ? __relayProbe.dialogs() : [])()`

	scriptButtons = `(() => globalThis.__relayProbe ? __relayProbe.buttons() : [])()`

	scriptResponseBlocks = `(() => globalThis.__relayProbe ? __relayProbe.responseBlocks() : [])()`

	scriptProcessLog = `(() => globalThis.__relayProbe ? __relayProbe.processLog() : [])()`

	scriptLatestUserMessage = `(() => globalThis.__relayProbe ? __relayProbe.latestUserMessage() : "")()`

	scriptIsGenerating = `(() => globalThis.__relayProbe ? __relayProbe.isGenerating() : false)()`

	scriptQuotaExhausted = `(() => globalThis.__relayProbe ? __relayProbe.quotaExhausted() : false)()`

	scriptExpandMenu = `(() => globalThis.__relayProbe ? __relayProbe.expandMoreOptions() : false)()`

	scriptClickStop = `(() => globalThis.__relayProbe ? __relayProbe.clickStop() : false)()`

	// Takes the normalized label via %s after JSON escaping.
	scriptClickButton = `((label) => globalThis.__relayProbe ? __relayProbe.clickButton(label) : false)(%s)`

	scriptInsertPrompt = `((text) => { if (globalThis.__relayProbe) __relayProbe.insertPrompt(text); })(%s)`
)
