package render

import "html/template"

var pageTemplate = template.Must(template.New("visualization").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{if .Title}}{{.Title}}{{else}}Visualization{{end}}</title>
<style>
html, body { margin: 0; padding: 0; background: {{.Background}}; color: {{.Foreground}}; font-family: {{.FontFamily}}; }
#wrap { position: relative; width: {{.Width}}px; height: {{.Height}}px; margin: 0 auto; }
#plot { display: block; cursor: grab; }
#tooltip { position: absolute; display: none; max-width: 320px; padding: 6px 8px;
  background: rgba(0,0,0,0.82); color: #fff; font-size: 12px; border-radius: 4px;
  pointer-events: none; white-space: pre-wrap; z-index: 10; }
#titles { text-align: center; padding: 8px 0 4px 0; }
#titles h1 { margin: 0; font-size: 20px; }
#titles h2 { margin: 0; font-size: 14px; font-weight: normal; opacity: 0.7; }
</style>
</head>
<body>
{{if .Title}}<div id="titles"><h1>{{.Title}}</h1>{{if .SubTitle}}<h2>{{.SubTitle}}</h2>{{end}}</div>{{end}}
<div id="wrap">
<canvas id="plot" width="{{.Width}}" height="{{.Height}}"></canvas>
<div id="tooltip"></div>
</div>
<script>
var POINTS = {{.PointsJSON}};
var LABELS = {{.LabelsJSON}};
var POLY_ALPHA = {{.PolygonAlpha}};

(function () {
  var canvas = document.getElementById("plot");
  var ctx = canvas.getContext("2d");
  var tooltip = document.getElementById("tooltip");

  var minX = Infinity, maxX = -Infinity, minY = Infinity, maxY = -Infinity;
  POINTS.forEach(function (p) {
    if (p.x < minX) minX = p.x;
    if (p.x > maxX) maxX = p.x;
    if (p.y < minY) minY = p.y;
    if (p.y > maxY) maxY = p.y;
  });
  if (!isFinite(minX)) { minX = 0; maxX = 1; minY = 0; maxY = 1; }

  var pad = 40;
  var baseScale = Math.min(
    (canvas.width - 2 * pad) / Math.max(maxX - minX, 1e-9),
    (canvas.height - 2 * pad) / Math.max(maxY - minY, 1e-9));
  var zoom = 1, offX = 0, offY = 0;

  function toScreen(x, y) {
    return [
      pad + (x - minX) * baseScale * zoom + offX,
      canvas.height - pad - (y - minY) * baseScale * zoom + offY
    ];
  }

  function draw() {
    ctx.clearRect(0, 0, canvas.width, canvas.height);

    LABELS.forEach(function (l) {
      if (!l.boundary || l.boundary.length < 3) return;
      ctx.beginPath();
      l.boundary.forEach(function (v, i) {
        var s = toScreen(v[0], v[1]);
        if (i === 0) ctx.moveTo(s[0], s[1]); else ctx.lineTo(s[0], s[1]);
      });
      ctx.closePath();
      ctx.globalAlpha = POLY_ALPHA;
      ctx.fillStyle = l.color;
      ctx.fill();
      ctx.globalAlpha = 1;
    });

    POINTS.forEach(function (p) {
      var s = toScreen(p.x, p.y);
      ctx.beginPath();
      ctx.arc(s[0], s[1], 2.5, 0, 2 * Math.PI);
      ctx.fillStyle = p.c;
      ctx.fill();
    });

    ctx.textAlign = "center";
    LABELS.forEach(function (l) {
      var s = toScreen(l.x, l.y);
      ctx.font = "bold " + l.size + "px sans-serif";
      ctx.fillStyle = l.color;
      ctx.strokeStyle = "rgba(0,0,0,0.6)";
      ctx.lineWidth = 3;
      l.text.split("\n").forEach(function (line, i) {
        var y = s[1] + i * (l.size + 2);
        ctx.strokeText(line, s[0], y);
        ctx.fillText(line, s[0], y);
      });
    });
  }

  var dragging = false, lastX = 0, lastY = 0;
  canvas.addEventListener("mousedown", function (e) {
    dragging = true; lastX = e.offsetX; lastY = e.offsetY;
  });
  window.addEventListener("mouseup", function () { dragging = false; });
  canvas.addEventListener("mousemove", function (e) {
    if (dragging) {
      offX += e.offsetX - lastX;
      offY += e.offsetY - lastY;
      lastX = e.offsetX; lastY = e.offsetY;
      tooltip.style.display = "none";
      draw();
      return;
    }
    var best = null, bestD = 64;
    POINTS.forEach(function (p) {
      var s = toScreen(p.x, p.y);
      var d = (s[0] - e.offsetX) * (s[0] - e.offsetX) + (s[1] - e.offsetY) * (s[1] - e.offsetY);
      if (d < bestD) { bestD = d; best = p; }
    });
    if (best && best.h) {
      tooltip.textContent = best.h;
      tooltip.style.left = (e.offsetX + 12) + "px";
      tooltip.style.top = (e.offsetY + 12) + "px";
      tooltip.style.display = "block";
    } else {
      tooltip.style.display = "none";
    }
  });
  canvas.addEventListener("wheel", function (e) {
    e.preventDefault();
    var factor = e.deltaY < 0 ? 1.1 : 1 / 1.1;
    zoom = Math.min(Math.max(zoom * factor, 0.2), 40);
    draw();
  }, { passive: false });

  draw();
})();
</script>
</body>
</html>
`))
