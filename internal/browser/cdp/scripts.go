package cdp

// Element functions run with the element as `this` and return null once it has been detached, which the
// page maps to browser.ErrStaleElement.

const jsQuery = `function(kind, expr) {
	const root = (this && this.nodeType) ? this : document;
	if (root !== document && !root.isConnected) return null;
	const out = [];
	if (kind === "xpath") {
		const doc = root.ownerDocument || root;
		const r = doc.evaluate(expr, root, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		for (let i = 0; i < r.snapshotLength; i++) {
			const n = r.snapshotItem(i);
			if (n.nodeType === 1) out.push(n);
		}
	} else {
		root.querySelectorAll(expr).forEach(e => out.push(e));
	}
	return out;
}`

const jsLength = `function() { return this.length; }`

const jsItem = `function(i) { return this[i]; }`

const jsText = `function() {
	if (!this.isConnected) return null;
	return (this.innerText || this.textContent || "").replace(/\s+/g, " ").trim();
}`

const jsAttributes = `function() {
	if (!this.isConnected) return null;
	const out = {};
	for (const a of this.attributes) out[a.name] = a.value;
	return out;
}`

const jsState = `function() {
	if (!this.isConnected) return null;
	const s = window.getComputedStyle(this);
	const r = this.getBoundingClientRect();
	const visible = s.display !== "none" && s.visibility !== "hidden" &&
		parseFloat(s.opacity || "1") > 0 && r.width > 0 && r.height > 0;
	const enabled = !this.disabled && this.getAttribute("aria-disabled") !== "true";
	let obstructed = false;
	if (visible) {
		const x = r.left + r.width / 2, y = r.top + r.height / 2;
		if (x >= 0 && y >= 0 && x < window.innerWidth && y < window.innerHeight) {
			const hit = document.elementFromPoint(x, y);
			obstructed = !!hit && hit !== this && !this.contains(hit);
		}
	}
	return {visible: visible, enabled: enabled, obstructed: obstructed};
}`

const jsSelected = `function() {
	if (!this.isConnected) return null;
	return !!(this.checked || this.selected);
}`

const jsScrollIntoView = `function() {
	if (!this.isConnected) return null;
	this.scrollIntoView({block: "center", inline: "center"});
	return true;
}`

const jsClickPoint = `function() {
	if (!this.isConnected) return null;
	const r = this.getBoundingClientRect();
	const x = r.left + r.width / 2, y = r.top + r.height / 2;
	const hit = document.elementFromPoint(x, y);
	return {x: x, y: y, hit: !!hit && (hit === this || this.contains(hit))};
}`

const jsDispatchClick = `function() {
	if (!this.isConnected) return null;
	this.click();
	return true;
}`

const jsClearAndFocus = `function() {
	if (!this.isConnected) return null;
	this.focus();
	if ("value" in this) {
		this.value = "";
		this.dispatchEvent(new Event("input", {bubbles: true}));
	}
	return true;
}`

const jsDispatchChange = `function() {
	if (!this.isConnected) return null;
	this.dispatchEvent(new Event("change", {bubbles: true}));
	return true;
}`

const jsClearStorage = `(function() {
	try { window.localStorage.clear(); } catch (e) {}
	try { window.sessionStorage.clear(); } catch (e) {}
	return true;
})()`
